// Package server exposes the contract guard over HTTP: a health probe, a
// Prometheus scrape endpoint and the contract status API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nftguard/nftguard/cache"
	"github.com/nftguard/nftguard/chain"
	"github.com/nftguard/nftguard/config"
	"github.com/nftguard/nftguard/metadata"
	"github.com/nftguard/nftguard/provider"
	"github.com/nftguard/nftguard/service"
)

// maxAddressesPerRequest bounds one status request so a single call can't
// fan out into hundreds of upstream lookups.
const maxAddressesPerRequest = 100

const healthProbeTimeout = 5 * time.Second

// Options wires the server's collaborators.
type Options struct {
	Config   config.Server
	Status   *service.Status
	Metadata *service.Metadata

	// PredictionStats reports the prediction cache counters for /health.
	// Optional.
	PredictionStats func() cache.Stats

	// Registry receives the request counter and backs /metrics. Nil uses
	// the process-default registry.
	Registry *prometheus.Registry

	Log *slog.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	cfg     config.Server
	status  *service.Status
	meta    *service.Metadata
	pstats  func() cache.Stats
	metrics *requestMetrics
	limiter *ipLimiter
	log     *slog.Logger
	handler http.Handler
}

// New builds the server and its routes.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	scrape := promhttp.Handler()
	if opts.Registry != nil {
		reg = opts.Registry
		scrape = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
	}

	s := &Server{
		cfg:     opts.Config,
		status:  opts.Status,
		meta:    opts.Metadata,
		pstats:  opts.PredictionStats,
		metrics: newRequestMetrics(reg),
		limiter: newIPLimiter(opts.Config.RateLimit),
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", scrape)
	mux.HandleFunc("POST /v1/contract/status", s.handleContractStatus)

	var h http.Handler = mux
	h = withRateLimit(s.limiter, log, h)
	h = withLogging(log, h)
	h = withRequestID(h)
	s.handler = h
	return s
}

// Handler returns the fully wrapped route tree.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is canceled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.RequestTimeout,
		WriteTimeout:      s.cfg.RequestTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status    string                     `json:"status"`
	Providers map[string]provider.Health `json:"providers"`
	Caches    map[string]cache.Stats     `json:"caches"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	providers := s.meta.ProviderHealth(ctx)

	overall := "down"
	for _, h := range providers {
		if h.Available() {
			overall = "ok"
			break
		}
	}

	caches := map[string]cache.Stats{"metadata": s.meta.CacheStats()}
	if s.pstats != nil {
		caches["predictions"] = s.pstats()
	}

	code := http.StatusOK
	if overall != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, healthResponse{
		Status:    overall,
		Providers: providers,
		Caches:    caches,
	})
}

type contractStatusRequest struct {
	Chain     chain.ID `json:"chain"`
	Addresses []string `json:"addresses"`
}

type contractStatusResponse struct {
	Address            string `json:"address"`
	ContractSpamStatus bool   `json:"contract_spam_status"`
	Message            string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleContractStatus(w http.ResponseWriter, r *http.Request) {
	var req contractStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if !req.Chain.Valid() {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported or missing chain"})
		return
	}
	if len(req.Addresses) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "addresses must not be empty"})
		return
	}
	if len(req.Addresses) > maxAddressesPerRequest {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: fmt.Sprintf("too many addresses: %d (max %d)", len(req.Addresses), maxAddressesPerRequest),
		})
		return
	}
	for _, a := range req.Addresses {
		if !common.IsHexAddress(a) {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid address %q", a)})
			return
		}
	}

	s.metrics.Observe(req.Chain, len(req.Addresses))

	results := make([]contractStatusResponse, 0, len(req.Addresses))
	for _, a := range req.Addresses {
		v := s.status.Check(r.Context(), metadata.Key{
			Address: common.HexToAddress(a),
			Chain:   req.Chain,
		})
		results = append(results, contractStatusResponse{
			Address:            a,
			ContractSpamStatus: v.Spam,
			Message:            v.Message,
		})
	}

	s.writeJSON(w, http.StatusOK, results)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("writing response", "error", err)
	}
}
