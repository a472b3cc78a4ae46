package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	storeerrors "github.com/devrev/pairdb/directclient/internal/errors"
	"github.com/devrev/pairdb/directclient/internal/model"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var probeCmd = &cobra.Command{
	Use:   "probe [resource-path...]",
	Short: "Continuously reads resources and exposes metrics and health",
	Long: `Issues a read against every given resource on a fixed interval and serves
Prometheus metrics and health endpoints. SIGHUP or POST /topology/reload
reloads the topology file and drops cached addresses.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().Duration("interval", 5*time.Second, "time between probe rounds")
	probeCmd.Flags().String("consistency", "", "consistency level of probe reads")
	probeCmd.Flags().String("listen", "", "metrics listen address, defaults to :metrics.port")
	probeCmd.Flags().String("resource-type", "Document", "resource type addressed by the paths")
	probeCmd.Flags().String("partition-key", "", "partition key used to route probe reads")
}

// probeState tracks the outcome of the last probe per resource
type probeState struct {
	mu      sync.RWMutex
	results map[string]probeResult
}

type probeResult struct {
	OK        bool      `json:"ok"`
	Status    int       `json:"status,omitempty"`
	LSN       int64     `json:"lsn,omitempty"`
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	At        time.Time `json:"at"`
}

func newProbeState() *probeState {
	return &probeState{results: make(map[string]probeResult)}
}

func (p *probeState) record(path string, r probeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[path] = r
}

func (p *probeState) snapshot() map[string]probeResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]probeResult, len(p.results))
	for k, v := range p.results {
		out[k] = v
	}
	return out
}

// ready reports whether every probed resource answered on its last round
func (p *probeState) ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.results) == 0 {
		return false
	}
	for _, r := range p.results {
		if !r.OK {
			return false
		}
	}
	return true
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	interval := viper.GetDuration("interval")
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", interval)
	}

	s, err := newStack(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStack(s)

	state := newProbeState()
	listen := viper.GetString("listen")
	if listen == "" {
		listen = fmt.Sprintf(":%d", cfg.Metrics.Port)
	}
	server := &http.Server{
		Addr:              listen,
		Handler:           newProbeRouter(s, state, cfg.Metrics.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	logger.Info("probe server started", zap.String("addr", listen), zap.String("metrics_path", cfg.Metrics.Path))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probeAll(ctx, s, state, args)
	for {
		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
			shutdownCtx, cancel := shutdownContext()
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case err := <-errChan:
			return fmt.Errorf("probe server error: %w", err)
		case <-hup:
			if err := reloadTopology(s); err != nil {
				s.logger.Error("failed to reload topology", zap.Error(err))
			}
		case <-ticker.C:
			probeAll(ctx, s, state, args)
		}
	}
}

// probeAll reads every path once and records the outcome
func probeAll(ctx context.Context, s *stack, state *probeState, paths []string) {
	for _, path := range paths {
		req, err := newRequestFromFlags(model.OperationRead, path)
		if err != nil {
			state.record(path, probeResult{Error: err.Error(), At: time.Now()})
			continue
		}

		start := time.Now()
		resp, err := s.client.Invoke(ctx, req)
		result := probeResult{At: start, LatencyMS: time.Since(start).Milliseconds()}
		switch {
		case err == nil:
			result.OK = true
			result.Status = resp.Status
			result.LSN = resp.LSN()
		case storeerrors.GetCode(err) == storeerrors.ErrCodeNotFound:
			// a missing resource still proves the replicas answer
			result.OK = true
			result.Status = http.StatusNotFound
		default:
			result.Error = err.Error()
			s.logger.Warn("probe read failed",
				zap.String("resource", path),
				zap.String("activity_id", req.ActivityID),
				zap.Error(err))
		}
		state.record(path, result)
	}
}

func reloadTopology(s *stack) error {
	if err := s.topology.Reload(); err != nil {
		return err
	}
	s.cache.Clear()
	s.logger.Info("topology reloaded")
	return nil
}

// healthStatus is the body of the health endpoints
type healthStatus struct {
	Status    string                 `json:"status"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]string      `json:"checks,omitempty"`
	Probes    map[string]probeResult `json:"probes,omitempty"`
}

// pinger is implemented by session stores backed by a remote service
type pinger interface {
	Ping(ctx context.Context) error
}

// newProbeRouter serves metrics, health and topology reload endpoints
func newProbeRouter(s *stack, state *probeState, metricsPath string) *mux.Router {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r := mux.NewRouter()
	r.Use(recoverPanics(s.logger), logRequests(s.logger))

	r.Handle(metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthStatus{Status: "alive", Timestamp: time.Now().Unix()})
	}).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		ready := state.ready()
		checks := map[string]string{"probes": "healthy"}
		if !ready {
			checks["probes"] = "unhealthy"
		}
		if p, ok := s.sessions.(pinger); ok {
			if err := p.Ping(ctx); err != nil {
				s.logger.Error("Session store health check failed", zap.Error(err))
				checks["session_store"] = "unhealthy: " + err.Error()
				ready = false
			} else {
				checks["session_store"] = "healthy"
			}
		}

		status := healthStatus{
			Status:    "ready",
			Timestamp: time.Now().Unix(),
			Checks:    checks,
			Probes:    state.snapshot(),
		}
		code := http.StatusOK
		if !ready {
			status.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}).Methods(http.MethodGet)
	r.HandleFunc("/topology/reload", func(w http.ResponseWriter, _ *http.Request) {
		if err := reloadTopology(s); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
	}).Methods(http.MethodPost)
	r.HandleFunc("/address-cache/{range}/invalidate", func(w http.ResponseWriter, req *http.Request) {
		pkRange := mux.Vars(req)["range"]
		s.cache.Invalidate(pkRange)
		writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "range": pkRange})
	}).Methods(http.MethodPost)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}
