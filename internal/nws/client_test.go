package nws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/nwsannounce/internal/models"
)

const headerContentType = "Content-Type"

func testClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 200 * time.Millisecond},
		baseURL:    baseURL,
		retryDelay: time.Millisecond,
		clock:      clockwork.NewRealClock(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_FetchStation_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stations/KSLO", r.URL.Path)
		assert.Equal(t, acceptGeoJSON, r.Header.Get("Accept"))
		w.Header().Set(headerContentType, acceptGeoJSON)
		_, _ = w.Write([]byte(`{
			"geometry": {"type": "Point", "coordinates": [-88.9667, 38.65]},
			"properties": {"stationIdentifier": "KSLO", "name": "Salem-Leckrone Airport", "timeZone": "America/Chicago"}
		}`))
	}))
	defer srv.Close()

	meta, err := testClient(srv.URL).FetchStation(context.Background(), "KSLO")
	require.NoError(t, err)

	assert.Equal(t, "KSLO", meta.StationID)
	assert.Equal(t, 38.65, meta.Latitude)
	assert.Equal(t, -88.9667, meta.Longitude)
	assert.Equal(t, "America/Chicago", meta.TimeZone)
}

func TestClient_FetchStation_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchStation(context.Background(), "KXYZ")
	require.Error(t, err)

	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, NetworkHTTPStatus, nerr.Kind)
	assert.Equal(t, http.StatusNotFound, nerr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_FetchStation_MissingCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"geometry": null, "properties": {"stationIdentifier": "KSLO"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchStation(context.Background(), "KSLO")

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, MissingField, perr.Kind)
	assert.Equal(t, "missing_field", ErrorKind(err))
}

const pointBody = `{
	"properties": {
		"gridId": "LSX", "gridX": 95, "gridY": 74,
		"forecast": "%s/gridpoints/LSX/95,74/forecast",
		"forecastHourly": "%s/gridpoints/LSX/95,74/forecast/hourly",
		"timeZone": "America/Chicago",
		"relativeLocation": {"properties": {"city": "St. Louis", "state": "MO"}}
	}
}`

func TestClient_FetchPoint_RetriesOnceAfterServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/points/38.6270,-90.1994", r.URL.Path)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"properties": {"gridId": "LSX", "gridX": 95, "gridY": 74,
			"forecast": "https://example.test/forecast", "forecastHourly": "https://example.test/hourly",
			"relativeLocation": {"properties": {"city": "St. Louis", "state": "MO"}}}}`))
	}))
	defer srv.Close()

	point, err := testClient(srv.URL).FetchPoint(context.Background(), 38.627, -90.1994)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "LSX", point.GridID)
	assert.Equal(t, 95, point.GridX)
	assert.Equal(t, "https://example.test/forecast", point.ForecastURL)
	assert.Equal(t, "https://example.test/hourly", point.ForecastHourlyURL)
	assert.Equal(t, "St. Louis", point.City)
}

func TestClient_FetchPoint_GivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchPoint(context.Background(), 38.627, -90.1994)

	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, NetworkHTTPStatus, nerr.Kind)
	assert.Equal(t, http.StatusInternalServerError, nerr.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_FetchPoint_Timeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient.Timeout = 50 * time.Millisecond

	_, err := c.FetchPoint(context.Background(), 38.627, -90.1994)

	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, NetworkTimeout, nerr.Kind)
	assert.Equal(t, "timeout", ErrorKind(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_FetchPoint_CanceledIsNotANetworkError(t *testing.T) {
	entered := make(chan struct{}, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.httpClient.Timeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()

	_, err := c.FetchPoint(ctx, 38.627, -90.1994)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var nerr *NetworkError
	assert.False(t, errors.As(err, &nerr), "cancellation should not be classified as a network failure")
	assert.Equal(t, "unknown", ErrorKind(err))
}

func TestClient_FetchPoint_MalformedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"properties": `))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchPoint(context.Background(), 38.627, -90.1994)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, MalformedFeed, perr.Kind)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_FetchPoint_MissingForecastURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"properties": {"gridId": "LSX", "forecastHourly": "https://example.test/hourly"}}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchPoint(context.Background(), 38.627, -90.1994)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "properties.forecast", perr.Field)
}

const alertsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:cap="urn:oasis:names:tc:emergency:cap:1.2">
  <id>https://api.weather.gov/alerts/active.atom?point=38.627,-90.1994</id>
  <title>Current watches, warnings, and advisories for 38.627 N, 90.1994 W</title>
  <updated>2025-06-04T20:15:00+00:00</updated>
  <entry>
    <id>urn:oid:2.49.0.1.840.0.tor.001.1</id>
    <updated>2025-06-04T15:15:00-05:00</updated>
    <published>2025-06-04T15:15:00-05:00</published>
    <title>Tornado Warning issued June 4 at 3:15PM CDT until June 4 at 4:00PM CDT by NWS St Louis MO</title>
    <summary>&lt;p&gt;...TORNADO WARNING IN EFFECT...&lt;/p&gt;</summary>
    <cap:event>Tornado Warning</cap:event>
    <cap:effective>2025-06-04T15:15:00-05:00</cap:effective>
    <cap:expires>2025-06-04T16:00:00-05:00</cap:expires>
    <cap:urgency>Immediate</cap:urgency>
    <cap:severity>Extreme</cap:severity>
    <cap:certainty>Observed</cap:certainty>
    <cap:areaDesc>St. Louis, MO</cap:areaDesc>
  </entry>
  <entry>
    <id>urn:oid:2.49.0.1.840.0.fla.002.1</id>
    <updated>2025-06-04T12:00:00-05:00</updated>
    <published>2025-06-04T12:00:00-05:00</published>
    <title>Flood Advisory issued June 4 at 12:00PM CDT by NWS St Louis MO</title>
    <summary>Minor flooding expected.</summary>
    <cap:urgency>Expected</cap:urgency>
    <cap:severity>Minor</cap:severity>
    <cap:certainty>Likely</cap:certainty>
  </entry>
  <entry>
    <id>urn:oid:2.49.0.1.840.0.bad.003.1</id>
    <updated>2025-06-04T12:00:00-05:00</updated>
    <cap:event>Heat Advisory</cap:event>
  </entry>
</feed>`

func TestClient_FetchAlerts(t *testing.T) {
	var sunk []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/alerts/active.atom", r.URL.Path)
		assert.Equal(t, "38.6270,-90.1994", r.URL.Query().Get("point"))
		w.Header().Set(headerContentType, acceptAtom)
		_, _ = w.Write([]byte(alertsFeed))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.SetPayloadSink(func(endpoint string, body []byte) {
		sunk = append(sunk, endpoint)
	})

	loc := models.Location{Latitude: 38.627, Longitude: -90.1994}
	set, err := c.FetchAlerts(context.Background(), loc)
	require.NoError(t, err)

	require.Len(t, set, 2, "entry without a title should be dropped")
	assert.Equal(t, []string{"alerts"}, sunk)

	tor, ok := set["urn:oid:2.49.0.1.840.0.tor.001.1"]
	require.True(t, ok)
	assert.Equal(t, "Tornado Warning", tor.Event)
	assert.Equal(t, models.SeverityExtreme, tor.Severity)
	assert.Equal(t, models.CertaintyObserved, tor.Certainty)
	assert.Equal(t, models.UrgencyImmediate, tor.Urgency)
	assert.Equal(t, "St. Louis, MO", tor.Area)
	assert.Equal(t, "...TORNADO WARNING IN EFFECT...", tor.Summary)
	assert.Equal(t, time.Date(2025, 6, 4, 20, 15, 0, 0, time.UTC), tor.Effective)
	assert.Equal(t, time.Date(2025, 6, 4, 21, 0, 0, 0, time.UTC), tor.Expires)

	flood := set["urn:oid:2.49.0.1.840.0.fla.002.1"]
	assert.Equal(t, "Flood Advisory", flood.Event, "event falls back to the title prefix")
	assert.Equal(t, models.SeverityMinor, flood.Severity)
	assert.Equal(t, time.Date(2025, 6, 4, 17, 0, 0, 0, time.UTC), flood.Effective, "effective falls back to published")
}

func TestClient_FetchAlerts_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><id>x</id><title>none</title><updated>2025-06-04T20:15:00+00:00</updated></feed>`))
	}))
	defer srv.Close()

	set, err := testClient(srv.URL).FetchAlerts(context.Background(), models.Location{Latitude: 1, Longitude: 2})
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestClient_FetchAlerts_MalformedFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`this is not a feed`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).FetchAlerts(context.Background(), models.Location{Latitude: 1, Longitude: 2})

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, MalformedFeed, perr.Kind)
}

func TestClient_FetchForecast(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gridpoints/LSX/95,74/forecast/hourly", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"properties": {"periods": [
			{"number": 1, "name": "", "startTime": "2025-06-04T15:00:00-05:00", "isDaytime": true,
			 "temperature": 84, "temperatureUnit": "F", "windSpeed": "10 mph", "windDirection": "SW",
			 "shortForecast": "Chance Showers And Thunderstorms", "probabilityOfPrecipitation": {"value": 40}},
			{"number": 2, "name": "", "startTime": "2025-06-04T16:00:00-05:00", "isDaytime": true,
			 "temperature": 83, "temperatureUnit": "F", "windSpeed": "10 mph", "windDirection": "SW",
			 "shortForecast": "Showers And Thunderstorms", "probabilityOfPrecipitation": {"value": null}}
		]}}`))
	})
	mux.HandleFunc("/gridpoints/LSX/95,74/forecast", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"properties": {"periods": [
			{"number": 1, "name": "This Afternoon", "isDaytime": true, "temperature": 86, "temperatureUnit": "F",
			 "shortForecast": "Chance Showers", "detailedForecast": "A chance of showers. High near 86."},
			{"number": 2, "name": "Tonight", "isDaytime": false, "temperature": 68, "temperatureUnit": "F",
			 "shortForecast": "Mostly Clear", "detailedForecast": "Mostly clear, with a low around 68."}
		]}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	point := &models.PointMeta{
		ForecastURL:       srv.URL + "/gridpoints/LSX/95,74/forecast",
		ForecastHourlyURL: srv.URL + "/gridpoints/LSX/95,74/forecast/hourly",
	}

	fetched := time.Date(2025, 6, 4, 20, 0, 0, 0, time.UTC)
	c := testClient(srv.URL)
	c.SetClock(clockwork.NewFakeClockAt(fetched))

	snap, err := c.FetchForecast(context.Background(), point)
	require.NoError(t, err)

	require.Len(t, snap.Short, 2)
	assert.Equal(t, "3 PM", snap.Short[0].Label)
	assert.Equal(t, 84, snap.Short[0].Temperature)
	assert.Equal(t, "SW 10 mph", snap.Short[0].Wind)
	assert.Equal(t, 40, snap.Short[0].PrecipChance)
	assert.Equal(t, 0, snap.Short[1].PrecipChance)

	require.Len(t, snap.Daily, 2)
	assert.Equal(t, "This Afternoon", snap.Daily[0].Label)
	assert.Equal(t, "High", snap.Daily[0].TempLabel())
	assert.Equal(t, "Low", snap.Daily[1].TempLabel())
	assert.Equal(t, "Mostly clear, with a low around 68.", snap.Daily[1].Narrative)
	assert.Equal(t, fetched, snap.FetchedAt)
}

func TestClient_FetchForecast_PartialFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/hourly", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"properties": {"periods": []}}`))
	})
	mux.HandleFunc("/daily", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	point := &models.PointMeta{ForecastURL: srv.URL + "/daily", ForecastHourlyURL: srv.URL + "/hourly"}
	snap, err := testClient(srv.URL).FetchForecast(context.Background(), point)

	assert.Nil(t, snap)
	var nerr *NetworkError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, http.StatusNotFound, nerr.StatusCode)
}
