package nws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lox/nwsannounce/internal/models"
)

const (
	maxShortPeriods = 12
	maxDailyPeriods = 14
)

type forecastResponse struct {
	Properties *struct {
		Periods []forecastPeriod `json:"periods"`
	} `json:"properties"`
}

type forecastPeriod struct {
	Number                     int    `json:"number"`
	Name                       string `json:"name"`
	StartTime                  string `json:"startTime"`
	IsDaytime                  bool   `json:"isDaytime"`
	Temperature                *int   `json:"temperature"`
	TemperatureUnit            string `json:"temperatureUnit"`
	WindSpeed                  string `json:"windSpeed"`
	WindDirection              string `json:"windDirection"`
	ShortForecast              string `json:"shortForecast"`
	DetailedForecast           string `json:"detailedForecast"`
	ProbabilityOfPrecipitation *struct {
		Value *float64 `json:"value"`
	} `json:"probabilityOfPrecipitation"`
}

// FetchForecast retrieves hourly and multi-day periods for a gridpoint. Both
// must succeed; the snapshot is never partially filled.
func (c *Client) FetchForecast(ctx context.Context, point *models.PointMeta) (*models.ForecastSnapshot, error) {
	if point == nil {
		return nil, missingField("point")
	}

	hourly, err := c.fetchPeriods(ctx, "forecast_hourly", point.ForecastHourlyURL)
	if err != nil {
		return nil, fmt.Errorf("hourly forecast: %w", err)
	}
	daily, err := c.fetchPeriods(ctx, "forecast", point.ForecastURL)
	if err != nil {
		return nil, fmt.Errorf("daily forecast: %w", err)
	}

	snap := &models.ForecastSnapshot{FetchedAt: c.clock.Now().UTC()}

	for i, p := range hourly {
		if i >= maxShortPeriods {
			break
		}
		sp := models.ShortPeriod{
			Label:     p.Name,
			Unit:      p.TemperatureUnit,
			Wind:      strings.TrimSpace(p.WindDirection + " " + p.WindSpeed),
			Narrative: p.ShortForecast,
		}
		if t, err := time.Parse(time.RFC3339, p.StartTime); err == nil {
			sp.StartTime = t
			// hourly periods have no name; label them by local hour
			if sp.Label == "" {
				sp.Label = t.Format("3 PM")
			}
		}
		if p.Temperature != nil {
			sp.Temperature = *p.Temperature
		}
		if p.ProbabilityOfPrecipitation != nil && p.ProbabilityOfPrecipitation.Value != nil {
			sp.PrecipChance = int(*p.ProbabilityOfPrecipitation.Value)
		}
		snap.Short = append(snap.Short, sp)
	}

	for i, p := range daily {
		if i >= maxDailyPeriods {
			break
		}
		dp := models.DailyPeriod{
			Label:     p.Name,
			IsDaytime: p.IsDaytime,
			Unit:      p.TemperatureUnit,
			Short:     p.ShortForecast,
			Narrative: p.DetailedForecast,
		}
		if p.Temperature != nil {
			dp.Temperature = *p.Temperature
		}
		snap.Daily = append(snap.Daily, dp)
	}

	return snap, nil
}

func (c *Client) fetchPeriods(ctx context.Context, endpoint, u string) ([]forecastPeriod, error) {
	if u == "" {
		return nil, missingField(endpoint + " url")
	}
	body, err := c.get(ctx, endpoint, u, acceptGeoJSON)
	if err != nil {
		return nil, err
	}

	var data forecastResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, malformed(fmt.Errorf("decode %s: %w", endpoint, err))
	}
	if data.Properties == nil || data.Properties.Periods == nil {
		return nil, missingField("properties.periods")
	}
	return data.Properties.Periods, nil
}
