package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lox/wandibirds/internal/activity"
	"github.com/lox/wandibirds/internal/birds"
	"github.com/lox/wandibirds/internal/ingest"
	"github.com/lox/wandibirds/internal/metrics"
	"github.com/lox/wandibirds/internal/models"
)

const (
	tightRadiusKm     = 3
	wideRadiusKm      = 10
	lookbackDays      = 5
	maxResults        = 200
	sparsityThreshold = 5
	notableCount      = 3
	observationTTL    = 6 * time.Hour
)

func (s *Server) handleBirds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := requiredFloat(q, "lat", -90, 90)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	lon, err := requiredFloat(q, "lon", -180, 180)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	hour, err := optionalHour(q, "hour")
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	weather, err := weatherFromQuery(q)
	if err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}

	// Bucket to ~100m before anything else touches the coordinate: the
	// cache key and the upstream query both see only the rounded value.
	lat, lon = round3(lat), round3(lon)
	key := cacheKey(lat, lon)

	set, err := s.observations(r.Context(), key, lat, lon)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrNotConfigured):
			httpError(w, http.StatusServiceUnavailable, errors.New("bird observations are not configured"))
		default:
			var upstream *ingest.UpstreamError
			if errors.As(err, &upstream) {
				httpError(w, http.StatusBadGateway, errors.New("bird observation service unavailable"))
			} else {
				httpError(w, http.StatusInternalServerError, errors.New("bird observation lookup failed"))
			}
			log.Printf("birds %s: %v", key, err)
		}
		return
	}

	ranked := birds.Rank(set.Observations, hour)
	notable := ranked
	if len(notable) > notableCount {
		notable = notable[:notableCount]
	}

	now := s.clock.Now()
	currentHour := now.Hour()
	if hour != nil {
		currentHour = *hour
	}

	report := models.BirdsReport{
		GeneratedAt:         now.UTC(),
		Location:            models.Coordinates{Lat: lat, Lon: lon},
		NotableSpecies:      notable,
		AllSpecies:          ranked,
		TotalSpeciesCount:   len(ranked),
		ObservationRadiusKm: set.RadiusKm,
		Activity:            activity.BuildCurve(weather, now.Month(), currentHour),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// observations resolves the cached raw-observation set for a coordinate
// bucket, fetching (with radius widening) on a miss. Concurrent cold-key
// requests share one upstream fetch. On fetch failure a previously
// successful set for the key is served instead, if one exists.
func (s *Server) observations(ctx context.Context, key string, lat, lon float64) (models.ObservationSet, error) {
	if set, ok := s.obsCache.Get(key); ok {
		metrics.ObservationCacheHits.Inc()
		return set, nil
	}
	metrics.ObservationCacheMisses.Inc()

	// The flight is shared by every coalesced waiter, so detach it from the
	// winning caller's context: one client disconnecting mid-fetch must not
	// fail the others. The HTTP client timeout still bounds the fetch.
	fetchCtx := context.WithoutCancel(ctx)
	set, err := s.obsCache.Fetch(key, observationTTL, func() (models.ObservationSet, error) {
		return s.fetchWidening(fetchCtx, lat, lon)
	})
	if err != nil {
		if stale, ok := s.staleSet(key); ok {
			metrics.StaleServedTotal.Inc()
			log.Printf("birds %s: serving stale observations after upstream failure: %v", key, err)
			return stale, nil
		}
		return models.ObservationSet{}, err
	}

	s.mu.Lock()
	s.lastGood[key] = set
	s.mu.Unlock()
	return set, nil
}

// fetchWidening fetches at the tight radius and, when too few distinct
// species come back, refetches at the wide radius and uses that instead.
// The two fetches are sequential, never concurrent.
func (s *Server) fetchWidening(ctx context.Context, lat, lon float64) (models.ObservationSet, error) {
	raw, err := s.ebird.FetchRecent(ctx, lat, lon, ingest.FetchOptions{
		DistanceKm:   tightRadiusKm,
		LookbackDays: lookbackDays,
		MaxResults:   maxResults,
	})
	if err != nil {
		return models.ObservationSet{}, err
	}

	observations := ingest.Normalize(raw)
	radius := tightRadiusKm

	if distinctSpecies(observations) < sparsityThreshold {
		wide, err := s.ebird.FetchRecent(ctx, lat, lon, ingest.FetchOptions{
			DistanceKm:   wideRadiusKm,
			LookbackDays: lookbackDays,
			MaxResults:   maxResults,
		})
		if err != nil {
			// The tight result is sparse but real; better than failing.
			log.Printf("wide-radius fetch failed, keeping tight result: %v", err)
		} else {
			metrics.RadiusWidenedTotal.Inc()
			observations = ingest.Normalize(wide)
			radius = wideRadiusKm
		}
	}

	return models.ObservationSet{Observations: observations, RadiusKm: radius}, nil
}

func (s *Server) staleSet(key string) (models.ObservationSet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.lastGood[key]
	return set, ok
}

func distinctSpecies(observations []models.Observation) int {
	codes := make(map[string]struct{}, len(observations))
	for _, o := range observations {
		codes[o.SpeciesCode] = struct{}{}
	}
	return len(codes)
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.3f,%.3f", lat, lon)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func requiredFloat(q url.Values, name string, min, max float64) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter %q", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	// ParseFloat accepts "NaN", which slides through plain < > comparisons.
	if math.IsNaN(v) || v < min || v > max {
		return 0, fmt.Errorf("%s %g out of range [%g, %g]", name, v, min, max)
	}
	return v, nil
}

func optionalHour(q url.Values, name string) (*int, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > 23 {
		return nil, fmt.Errorf("invalid %s %q: want 0-23", name, raw)
	}
	return &v, nil
}

func weatherFromQuery(q url.Values) (models.Weather, error) {
	weather := models.DefaultWeather()

	overrides := []struct {
		name     string
		min, max float64
		dst      *float64
	}{
		{"temp_c", -90, 60, &weather.TempC},
		{"rain", 0, 100, &weather.RainProbability},
		{"wind", 0, 150, &weather.WindSpeedMS},
		{"cloud", 0, 100, &weather.CloudPercent},
	}
	for _, o := range overrides {
		raw := q.Get(o.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return weather, fmt.Errorf("invalid %s %q", o.name, raw)
		}
		if math.IsNaN(v) || v < o.min || v > o.max {
			return weather, fmt.Errorf("%s %g out of range [%g, %g]", o.name, v, o.min, o.max)
		}
		*o.dst = v
	}
	return weather, nil
}

func httpError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
