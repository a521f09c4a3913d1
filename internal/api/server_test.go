package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/wandibirds/internal/api"
	"github.com/lox/wandibirds/internal/ingest"
	"github.com/lox/wandibirds/internal/models"
)

type fakeEBird struct {
	mu      sync.Mutex
	calls   []ingest.FetchOptions
	respond func(opts ingest.FetchOptions) ([]ingest.RawObservation, error)
}

func (f *fakeEBird) FetchRecent(_ context.Context, _, _ float64, opts ingest.FetchOptions) ([]ingest.RawObservation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()
	return f.respond(opts)
}

func (f *fakeEBird) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// species fabricates n raw observations with distinct species codes.
func species(n int, hour int) []ingest.RawObservation {
	out := make([]ingest.RawObservation, n)
	for i := range out {
		out[i] = ingest.RawObservation{
			SpeciesCode: fmt.Sprintf("sp%d", i),
			ComName:     fmt.Sprintf("Species %d", i),
			ObsDt:       fmt.Sprintf("2026-08-30 %02d:00", hour),
			HowMany:     1,
			LocName:     "Wandiligong",
		}
	}
	return out
}

func get(t *testing.T, srv *api.Server, target string) (*httptest.ResponseRecorder, models.BirdsReport) {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var report models.BirdsReport
	if w.Code == 200 {
		if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return w, report
}

func TestBirds_ParamValidation(t *testing.T) {
	fake := &fakeEBird{respond: func(ingest.FetchOptions) ([]ingest.RawObservation, error) {
		return species(6, 6), nil
	}}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())

	tests := []struct {
		name   string
		target string
		field  string
	}{
		{"missing lat", "/birds?lon=146.977", "lat"},
		{"missing lon", "/birds?lat=-36.794", "lon"},
		{"lat out of range", "/birds?lat=95&lon=146.977", "lat"},
		{"lon out of range", "/birds?lat=-36.794&lon=190", "lon"},
		{"bad hour", "/birds?lat=-36.794&lon=146.977&hour=24", "hour"},
		{"bad rain", "/birds?lat=-36.794&lon=146.977&rain=120", "rain"},
		{"bad cloud", "/birds?lat=-36.794&lon=146.977&cloud=-1", "cloud"},
		{"NaN lat", "/birds?lat=NaN&lon=146.977", "lat"},
		{"NaN lon", "/birds?lat=-36.794&lon=NaN", "lon"},
		{"NaN rain", "/birds?lat=-36.794&lon=146.977&rain=NaN", "rain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := get(t, srv, tt.target)
			if w.Code != 400 {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.field) {
				t.Errorf("error body %q does not name field %q", w.Body.String(), tt.field)
			}
		})
	}
	if fake.callCount() != 0 {
		t.Errorf("invalid input must not reach the upstream, got %d calls", fake.callCount())
	}
}

func TestBirds_DenseTightRadius(t *testing.T) {
	fake := &fakeEBird{respond: func(opts ingest.FetchOptions) ([]ingest.RawObservation, error) {
		return species(5, 6), nil
	}}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())

	w, report := get(t, srv, "/birds?lat=-36.794&lon=146.977&hour=6")
	if w.Code != 200 {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if fake.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (no widening at 5 distinct species)", fake.callCount())
	}
	if report.ObservationRadiusKm != 3 {
		t.Errorf("radius = %d, want 3", report.ObservationRadiusKm)
	}
	if report.TotalSpeciesCount != 5 {
		t.Errorf("total species = %d, want 5", report.TotalSpeciesCount)
	}
	if len(report.NotableSpecies) != 3 {
		t.Errorf("notable = %d, want top 3", len(report.NotableSpecies))
	}
	if len(report.AllSpecies) != 5 {
		t.Errorf("all species = %d, want 5", len(report.AllSpecies))
	}
}

func TestBirds_SparseTightRadiusWidens(t *testing.T) {
	fake := &fakeEBird{respond: func(opts ingest.FetchOptions) ([]ingest.RawObservation, error) {
		if opts.DistanceKm == 3 {
			return species(4, 6), nil
		}
		return species(9, 6), nil
	}}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())

	w, report := get(t, srv, "/birds?lat=-36.794&lon=146.977")
	if w.Code != 200 {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	if fake.callCount() != 2 {
		t.Fatalf("calls = %d, want 2 (tight then wide)", fake.callCount())
	}
	if fake.calls[0].DistanceKm != 3 || fake.calls[1].DistanceKm != 10 {
		t.Errorf("radii = %d, %d, want 3 then 10", fake.calls[0].DistanceKm, fake.calls[1].DistanceKm)
	}
	if report.ObservationRadiusKm != 10 {
		t.Errorf("radius = %d, want 10", report.ObservationRadiusKm)
	}
	if report.TotalSpeciesCount != 9 {
		t.Errorf("total species = %d, want the wide result", report.TotalSpeciesCount)
	}
}

func TestBirds_CacheBucketsRoundedCoordinates(t *testing.T) {
	fake := &fakeEBird{respond: func(ingest.FetchOptions) ([]ingest.RawObservation, error) {
		return species(6, 6), nil
	}}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())

	// Both coordinates round to the same 3-decimal bucket.
	get(t, srv, "/birds?lat=-36.7941&lon=146.9770")
	w, report := get(t, srv, "/birds?lat=-36.7943&lon=146.9771")
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}

	if fake.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (second request served from cache)", fake.callCount())
	}
	if report.Location.Lat != -36.794 || report.Location.Lon != 146.977 {
		t.Errorf("location = %+v, want rounded coordinates", report.Location)
	}
}

func TestBirds_NotableRankedByHourProximity(t *testing.T) {
	fake := &fakeEBird{respond: func(ingest.FetchOptions) ([]ingest.RawObservation, error) {
		return []ingest.RawObservation{
			{SpeciesCode: "night", ObsDt: "2026-08-29 23:00", ComName: "Owl"},
			{SpeciesCode: "dawn", ObsDt: "2026-08-27 06:15", ComName: "Magpie"},
			{SpeciesCode: "noon", ObsDt: "2026-08-30 12:00", ComName: "Raven"},
			{SpeciesCode: "morning", ObsDt: "2026-08-30 08:00", ComName: "Wren"},
			{SpeciesCode: "dusk", ObsDt: "2026-08-28 17:30", ComName: "Galah"},
		}, nil
	}}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())

	_, report := get(t, srv, "/birds?lat=-36.794&lon=146.977&hour=6")

	// Circular distances to hour 6: dawn 0, morning 2, noon 6, night 7, dusk 11.
	want := []string{"dawn", "morning", "noon"}
	if len(report.NotableSpecies) != 3 {
		t.Fatalf("notable = %d, want 3", len(report.NotableSpecies))
	}
	for i, code := range want {
		if report.NotableSpecies[i].SpeciesCode != code {
			t.Errorf("notable[%d] = %q, want %q", i, report.NotableSpecies[i].SpeciesCode, code)
		}
	}
}

func TestBirds_NotConfigured(t *testing.T) {
	fake := &fakeEBird{respond: func(ingest.FetchOptions) ([]ingest.RawObservation, error) {
		return nil, ingest.ErrNotConfigured
	}}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())

	w, _ := get(t, srv, "/birds?lat=-36.794&lon=146.977")
	if w.Code != 503 {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestBirds_UpstreamErrorNoFallback(t *testing.T) {
	fake := &fakeEBird{respond: func(ingest.FetchOptions) ([]ingest.RawObservation, error) {
		return nil, &ingest.UpstreamError{StatusCode: 500}
	}}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())

	w, _ := get(t, srv, "/birds?lat=-36.794&lon=146.977")
	if w.Code != 502 {
		t.Fatalf("status = %d, want 502", w.Code)
	}
}

func TestBirds_StaleWhileError(t *testing.T) {
	healthy := true
	fake := &fakeEBird{respond: func(ingest.FetchOptions) ([]ingest.RawObservation, error) {
		if !healthy {
			return nil, &ingest.UpstreamError{StatusCode: 503}
		}
		return species(6, 6), nil
	}}
	clock := clockwork.NewFakeClock()
	srv := api.NewServer(fake, "8080", clock)

	w, _ := get(t, srv, "/birds?lat=-36.794&lon=146.977")
	if w.Code != 200 {
		t.Fatalf("priming request failed: %d", w.Code)
	}

	// Past the 6h observation TTL the cache is cold again; the upstream is
	// now down, so the last good set is served.
	clock.Advance(7 * time.Hour)
	healthy = false

	w, report := get(t, srv, "/birds?lat=-36.794&lon=146.977")
	if w.Code != 200 {
		t.Fatalf("status = %d, want stale 200", w.Code)
	}
	if report.TotalSpeciesCount != 6 {
		t.Errorf("total species = %d, want the stale set", report.TotalSpeciesCount)
	}

	// A different bucket has no fallback and must surface the failure.
	w, _ = get(t, srv, "/birds?lat=-36.900&lon=147.053")
	if w.Code != 502 {
		t.Errorf("status = %d, want 502 for a cold bucket", w.Code)
	}
}

func TestBirds_WeatherOverridesShapeActivity(t *testing.T) {
	fake := &fakeEBird{respond: func(ingest.FetchOptions) ([]ingest.RawObservation, error) {
		return species(6, 6), nil
	}}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())

	_, calm := get(t, srv, "/birds?lat=-36.794&lon=146.977&hour=6&rain=0&wind=0")
	_, stormy := get(t, srv, "/birds?lat=-36.794&lon=146.977&hour=6&rain=90&wind=12")

	if stormy.Activity.Current.Score >= calm.Activity.Current.Score {
		t.Errorf("stormy score %d should be below calm score %d",
			stormy.Activity.Current.Score, calm.Activity.Current.Score)
	}
	if calm.Activity.Current.Hour != 6 {
		t.Errorf("current hour = %d, want caller-supplied 6", calm.Activity.Current.Hour)
	}
	if len(calm.Activity.Curve) != 24 {
		t.Errorf("curve has %d points, want 24", len(calm.Activity.Curve))
	}
}

// blockingEBird holds every fetch until released, honoring cancellation, so
// tests can control what happens to an in-flight coalesced fetch.
type blockingEBird struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingEBird) FetchRecent(ctx context.Context, _, _ float64, _ ingest.FetchOptions) ([]ingest.RawObservation, error) {
	b.calls.Add(1)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return species(6, 6), nil
	}
}

func TestBirds_CoalescedFetchSurvivesWinnerDisconnect(t *testing.T) {
	fake := &blockingEBird{release: make(chan struct{})}
	srv := api.NewServer(fake, "8080", clockwork.NewFakeClock())
	handler := srv.Handler()

	// First request starts the flight, then its client goes away.
	winnerCtx, disconnect := context.WithCancel(context.Background())
	winnerDone := make(chan struct{})
	go func() {
		defer close(winnerDone)
		req := httptest.NewRequest("GET", "/birds?lat=-36.794&lon=146.977", nil).WithContext(winnerCtx)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for fake.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("upstream fetch never started")
		}
		time.Sleep(time.Millisecond)
	}

	// Second request joins the same in-flight fetch.
	waiterDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/birds?lat=-36.794&lon=146.977", nil))
		waiterDone <- w
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter join the flight
	disconnect()
	close(fake.release)

	select {
	case w := <-waiterDone:
		if w.Code != 200 {
			t.Fatalf("waiter status = %d, want 200: %s", w.Code, w.Body.String())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never finished")
	}
	<-winnerDone

	if fake.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 coalesced fetch", fake.calls.Load())
	}
}

func TestServerRun_ShutsDownOnContextCancel(t *testing.T) {
	srv := api.NewServer(&fakeEBird{}, "0", clockwork.NewRealClock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond) // let the listener come up
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v after graceful shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHealth(t *testing.T) {
	srv := api.NewServer(&fakeEBird{}, "8080", clockwork.NewFakeClock())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status"`) {
		t.Error("expected status field in JSON response")
	}
}
