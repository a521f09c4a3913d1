package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/wandibirds/internal/cache"
	"github.com/lox/wandibirds/internal/ingest"
	"github.com/lox/wandibirds/internal/models"
)

// ObservationFetcher is the upstream bird-sighting source.
type ObservationFetcher interface {
	FetchRecent(ctx context.Context, lat, lon float64, opts ingest.FetchOptions) ([]ingest.RawObservation, error)
}

type Server struct {
	ebird ObservationFetcher
	port  string
	clock clockwork.Clock

	obsCache *cache.Cache[models.ObservationSet]

	// lastGood keeps the most recent successful observation set per
	// coordinate bucket, independent of the TTL cache, so an upstream
	// failure can serve stale data instead of an error.
	mu       sync.Mutex
	lastGood map[string]models.ObservationSet
}

func NewServer(ebird ObservationFetcher, port string, clock clockwork.Clock) *Server {
	return &Server{
		ebird:    ebird,
		port:     port,
		clock:    clock,
		obsCache: cache.New[models.ObservationSet](clock),
		lastGood: make(map[string]models.ObservationSet),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/birds", s.handleBirds)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
