package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/lox/nwsannounce/internal/models"
	"github.com/lox/nwsannounce/internal/nws"
)

// StationPrefix is prepended to three-letter station codes (SLO -> KSLO).
const StationPrefix = "K"

var (
	postalCodePattern   = regexp.MustCompile(`^(\d{5})(-\d{4})?$`)
	shortStationPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

type ResolutionErrorKind int

const (
	NotFound ResolutionErrorKind = iota
	Malformed
)

func (k ResolutionErrorKind) String() string {
	if k == NotFound {
		return "not_found"
	}
	return "malformed"
}

type ResolutionError struct {
	Kind  ResolutionErrorKind
	RawID string
	Err   error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %q: %s: %v", e.RawID, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolve %q: %s", e.RawID, e.Kind)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// GeocodeTable is the offline postal code lookup.
type GeocodeTable interface {
	LookupPostalCode(code string) (lat, lon float64, ok bool)
}

// StationFetcher looks up station metadata; *nws.Client implements it.
type StationFetcher interface {
	FetchStation(ctx context.Context, stationID string) (*models.StationMeta, error)
}

// Resolver turns user-entered identifiers into coordinates. Successful
// resolutions are cached by raw identifier for the life of the process.
type Resolver struct {
	geocode  GeocodeTable
	stations StationFetcher
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]models.Location
}

func NewResolver(geocode GeocodeTable, stations StationFetcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		geocode:  geocode,
		stations: stations,
		logger:   logger.With("component", "location"),
		cache:    make(map[string]models.Location),
	}
}

// Resolve returns the location for rawID, consulting the cache first.
func (r *Resolver) Resolve(ctx context.Context, rawID string) (models.Location, error) {
	r.mu.Lock()
	loc, ok := r.cache[rawID]
	r.mu.Unlock()
	if ok {
		return loc, nil
	}

	loc, err := r.resolve(ctx, rawID)
	if err != nil {
		return models.Location{}, err
	}

	r.mu.Lock()
	r.cache[rawID] = loc
	r.mu.Unlock()

	r.logger.Info("resolved location", "id", rawID, "kind", loc.Kind.String(),
		"lat", loc.Latitude, "lon", loc.Longitude, "station", loc.StationID)
	return loc, nil
}

// Invalidate drops the cached resolution for rawID only.
func (r *Resolver) Invalidate(rawID string) {
	r.mu.Lock()
	delete(r.cache, rawID)
	r.mu.Unlock()
}

// Cached reports whether rawID has a cached resolution.
func (r *Resolver) Cached(rawID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[rawID]
	return ok
}

func (r *Resolver) resolve(ctx context.Context, rawID string) (models.Location, error) {
	id := strings.ToUpper(strings.TrimSpace(rawID))
	if id == "" {
		return models.Location{}, &ResolutionError{Kind: NotFound, RawID: rawID, Err: errors.New("empty identifier")}
	}

	if m := postalCodePattern.FindStringSubmatch(id); m != nil {
		if r.geocode == nil {
			return models.Location{}, &ResolutionError{Kind: NotFound, RawID: rawID, Err: errors.New("no geocode table loaded")}
		}
		lat, lon, ok := r.geocode.LookupPostalCode(m[1])
		if !ok {
			return models.Location{}, &ResolutionError{Kind: NotFound, RawID: rawID}
		}
		return models.Location{RawID: rawID, Kind: models.PostalCode, Latitude: lat, Longitude: lon}, nil
	}

	stationID := NormalizeStation(id)
	meta, err := r.stations.FetchStation(ctx, stationID)
	if err != nil {
		var nerr *nws.NetworkError
		if errors.As(err, &nerr) && nerr.Kind == nws.NetworkHTTPStatus {
			return models.Location{}, &ResolutionError{Kind: NotFound, RawID: rawID, Err: err}
		}
		var perr *nws.ParseError
		if errors.As(err, &perr) {
			return models.Location{}, &ResolutionError{Kind: Malformed, RawID: rawID, Err: err}
		}
		return models.Location{}, fmt.Errorf("fetch station %s: %w", stationID, err)
	}

	return models.Location{
		RawID:     rawID,
		Kind:      models.StationCode,
		Latitude:  meta.Latitude,
		Longitude: meta.Longitude,
		StationID: meta.StationID,
	}, nil
}

// NormalizeStation uppercases a station code and adds the K prefix to
// three-letter codes. Codes containing digits are left as they are.
func NormalizeStation(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if shortStationPattern.MatchString(code) {
		return StationPrefix + code
	}
	return code
}

// StaticTable is an in-memory GeocodeTable.
type StaticTable map[string][2]float64

func (t StaticTable) LookupPostalCode(code string) (float64, float64, bool) {
	c, ok := t[code]
	return c[0], c[1], ok
}
