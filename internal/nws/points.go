package nws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/lox/nwsannounce/internal/models"
)

type stationResponse struct {
	Geometry *struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"geometry"`
	Properties struct {
		StationIdentifier string `json:"stationIdentifier"`
		Name              string `json:"name"`
		TimeZone          string `json:"timeZone"`
	} `json:"properties"`
}

// FetchStation looks up observation station metadata by identifier. The
// identifier is used as given; normalization is the caller's job.
func (c *Client) FetchStation(ctx context.Context, stationID string) (*models.StationMeta, error) {
	u := fmt.Sprintf("%s/stations/%s", c.baseURL, url.PathEscape(stationID))
	body, err := c.get(ctx, "stations", u, acceptGeoJSON)
	if err != nil {
		return nil, err
	}

	var data stationResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, malformed(fmt.Errorf("decode station: %w", err))
	}
	if data.Geometry == nil || len(data.Geometry.Coordinates) < 2 {
		return nil, missingField("geometry.coordinates")
	}

	meta := &models.StationMeta{
		StationID: data.Properties.StationIdentifier,
		Name:      data.Properties.Name,
		Longitude: data.Geometry.Coordinates[0],
		Latitude:  data.Geometry.Coordinates[1],
		TimeZone:  data.Properties.TimeZone,
	}
	if meta.StationID == "" {
		meta.StationID = stationID
	}
	return meta, nil
}

type pointResponse struct {
	Properties struct {
		GridID           string `json:"gridId"`
		GridX            int    `json:"gridX"`
		GridY            int    `json:"gridY"`
		Forecast         string `json:"forecast"`
		ForecastHourly   string `json:"forecastHourly"`
		TimeZone         string `json:"timeZone"`
		RelativeLocation struct {
			Properties struct {
				City  string `json:"city"`
				State string `json:"state"`
			} `json:"properties"`
		} `json:"relativeLocation"`
	} `json:"properties"`
}

// FetchPoint resolves a coordinate to its forecast gridpoint and the URLs of
// its forecast resources.
func (c *Client) FetchPoint(ctx context.Context, lat, lon float64) (*models.PointMeta, error) {
	u := fmt.Sprintf("%s/points/%s,%s", c.baseURL, formatCoord(lat), formatCoord(lon))
	body, err := c.get(ctx, "points", u, acceptGeoJSON)
	if err != nil {
		return nil, err
	}

	var data pointResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, malformed(fmt.Errorf("decode point: %w", err))
	}

	p := data.Properties
	if p.Forecast == "" {
		return nil, missingField("properties.forecast")
	}
	if p.ForecastHourly == "" {
		return nil, missingField("properties.forecastHourly")
	}

	return &models.PointMeta{
		Latitude:          lat,
		Longitude:         lon,
		GridID:            p.GridID,
		GridX:             p.GridX,
		GridY:             p.GridY,
		ForecastURL:       p.Forecast,
		ForecastHourlyURL: p.ForecastHourly,
		City:              p.RelativeLocation.Properties.City,
		State:             p.RelativeLocation.Properties.State,
		TimeZone:          p.TimeZone,
	}, nil
}
