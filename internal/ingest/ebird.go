package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lox/wandibirds/internal/httputil"
	"github.com/lox/wandibirds/internal/metrics"
)

const DefaultBaseURL = "https://api.ebird.org/v2"

// ErrNotConfigured means no eBird API key is present. Callers treat this as
// "feature disabled" rather than a transient upstream error.
var ErrNotConfigured = errors.New("ebird: api key not configured")

// UpstreamError is a non-success response from the eBird API. The adapter
// never retries; the aggregation endpoint decides what to do with it.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ebird: unexpected status %d", e.StatusCode)
}

// RawObservation is one record as returned by the recent-observations
// endpoint. Fields are passed through untouched; Normalize derives the
// canonical shape.
type RawObservation struct {
	SpeciesCode string `json:"speciesCode"`
	ComName     string `json:"comName"`
	SciName     string `json:"sciName"`
	ObsDt       string `json:"obsDt"`
	HowMany     int    `json:"howMany"`
	LocName     string `json:"locName"`
}

type FetchOptions struct {
	DistanceKm   int
	LookbackDays int
	MaxResults   int
}

type EBird struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewEBird(apiKey string) *EBird {
	return &EBird{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  httputil.NewClient(),
	}
}

// NewEBirdWithBaseURL is used by tests to point the adapter at a fake server.
func NewEBirdWithBaseURL(apiKey, baseURL string) *EBird {
	e := NewEBird(apiKey)
	e.baseURL = baseURL
	return e
}

// FetchRecent returns raw recent observations near a coordinate.
func (e *EBird) FetchRecent(ctx context.Context, lat, lon float64, opts FetchOptions) ([]RawObservation, error) {
	if e.apiKey == "" {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 3, 64))
	q.Set("lng", strconv.FormatFloat(lon, 'f', 3, 64))
	q.Set("maxResults", strconv.Itoa(opts.MaxResults))
	q.Set("back", strconv.Itoa(opts.LookbackDays))
	q.Set("dist", strconv.Itoa(opts.DistanceKm))

	reqURL := fmt.Sprintf("%s/data/obs/geo/recent?%s", e.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-eBirdApiToken", e.apiKey)

	start := time.Now()
	resp, err := e.client.Do(req)
	metrics.EBirdAPILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.EBirdAPICallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch recent observations: %w", err)
	}
	defer resp.Body.Close()

	metrics.EBirdAPICallsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	var records []RawObservation
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}
	return records, nil
}
