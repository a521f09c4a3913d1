// Package client is the consumer-side mirror of the /birds endpoint. It
// shares the server's activity scorer, so a consumer holding a report can
// recompute the curve against live weather without another round trip.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/wandibirds/internal/activity"
	"github.com/lox/wandibirds/internal/cache"
	"github.com/lox/wandibirds/internal/httputil"
	"github.com/lox/wandibirds/internal/models"
)

// reportTTL is deliberately shorter than the server's observation TTL: the
// client refreshes activity locally in between, so it only needs the species
// list to stay reasonably fresh.
const reportTTL = 3 * time.Hour

type Client struct {
	baseURL string
	http    *http.Client
	reports *cache.Cache[models.BirdsReport]

	// last keeps the most recent successful report per coordinate bucket
	// for offline/error fallback, with no expiry.
	mu   sync.Mutex
	last map[string]models.BirdsReport
}

func New(baseURL string, clock clockwork.Clock) *Client {
	return &Client{
		baseURL: baseURL,
		http:    httputil.NewClient(),
		reports: cache.New[models.BirdsReport](clock),
		last:    make(map[string]models.BirdsReport),
	}
}

// Report returns the bird report for a coordinate, served from the local
// cache when fresh. On a fetch failure the last successful report for the
// same bucket is returned instead, if one exists.
func (c *Client) Report(ctx context.Context, lat, lon float64, hour *int, weather *models.Weather) (models.BirdsReport, error) {
	lat, lon = round3(lat), round3(lon)
	key := fmt.Sprintf("%.3f,%.3f", lat, lon)

	report, err := c.reports.Fetch(key, reportTTL, func() (models.BirdsReport, error) {
		return c.fetch(ctx, lat, lon, hour, weather)
	})
	if err != nil {
		c.mu.Lock()
		stale, ok := c.last[key]
		c.mu.Unlock()
		if ok {
			return stale, nil
		}
		return models.BirdsReport{}, err
	}

	c.mu.Lock()
	c.last[key] = report
	c.mu.Unlock()
	return report, nil
}

// RefreshActivity recomputes the report's activity curve from a fresh
// weather snapshot. Pure local computation, no network.
func (c *Client) RefreshActivity(report *models.BirdsReport, weather models.Weather, hour int, month time.Month) {
	report.Activity = activity.BuildCurve(weather, month, hour)
}

func (c *Client) fetch(ctx context.Context, lat, lon float64, hour *int, weather *models.Weather) (models.BirdsReport, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', 3, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', 3, 64))
	if hour != nil {
		q.Set("hour", strconv.Itoa(*hour))
	}
	if weather != nil {
		q.Set("temp_c", strconv.FormatFloat(weather.TempC, 'f', -1, 64))
		q.Set("rain", strconv.FormatFloat(weather.RainProbability, 'f', -1, 64))
		q.Set("wind", strconv.FormatFloat(weather.WindSpeedMS, 'f', -1, 64))
		q.Set("cloud", strconv.FormatFloat(weather.CloudPercent, 'f', -1, 64))
	}

	reqURL := fmt.Sprintf("%s/birds?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.BirdsReport{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.BirdsReport{}, fmt.Errorf("fetch report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.BirdsReport{}, fmt.Errorf("fetch report: unexpected status %d", resp.StatusCode)
	}

	var report models.BirdsReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return models.BirdsReport{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
