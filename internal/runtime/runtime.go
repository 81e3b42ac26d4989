package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sonoralabs/sonora-core/internal/bus"
	"github.com/sonoralabs/sonora-core/internal/config"
	"github.com/sonoralabs/sonora-core/internal/dictation"
	"github.com/sonoralabs/sonora-core/internal/eventstore"
	"github.com/sonoralabs/sonora-core/internal/insertion"
	"github.com/sonoralabs/sonora-core/internal/natsserver"
	"github.com/sonoralabs/sonora-core/internal/pipeline"
	"github.com/sonoralabs/sonora-core/internal/recovery"
)

// Options carries the collaborators the daemon cannot build itself.
// The insertion adapters default to the external stub: the shell
// reacts to the transcript bus event and performs the OS injection.
type Options struct {
	Direct       insertion.Inserter
	Fallback     insertion.Inserter
	RecoveryPath string
}

// Runtime owns the daemon's lifecycle: embedded bus, event store,
// orchestrator and the diagnostics HTTP server.
type Runtime struct {
	cfg         config.Config
	opts        Options
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	orch *dictation.Orchestrator
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Runtime {
	if opts.Direct == nil {
		opts.Direct = insertion.External()
	}
	if opts.RecoveryPath == "" {
		opts.RecoveryPath = recovery.DefaultPath()
	}
	return &Runtime{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}
}

// Orchestrator is available once Start has run; the embedding shell
// feeds capture audio and hotkey edges through it.
func (r *Runtime) Orchestrator() *dictation.Orchestrator {
	return r.orch
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	publisher, err := newMetricsPublisher(busClient)
	if err != nil {
		return fmt.Errorf("failed to create dictation metrics: %w", err)
	}

	r.orch = dictation.New(dictation.Options{
		Dictation: r.cfg.Dictation,
		Engine:    r.cfg.Engine,
		Insertion: r.cfg.Insertion,
		Logger:    r.logger,
		Publisher: publisher,
		Store:     store,
		Direct:    r.opts.Direct,
		Fallback:  r.opts.Fallback,
	})
	defer r.orch.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/statusz", r.handleStatus)
	mux.HandleFunc("/modelz", r.handleModel)
	mux.HandleFunc("/recoveryz", r.handleRecovery)
	mux.HandleFunc("/control/hotkey/down", r.handleControl(r.orch.HotkeyDown))
	mux.HandleFunc("/control/hotkey/up", r.handleControl(r.orch.HotkeyUp))
	mux.HandleFunc("/control/cancel", r.handleControl(r.orch.Cancel))
	mux.HandleFunc("/control/mode", r.handleMode)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, r.orch.Status())
}

func (r *Runtime) handleModel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, r.orch.ModelStatus())
}

func (r *Runtime) handleRecovery(w http.ResponseWriter, req *http.Request) {
	cp := recovery.LoadOrDefault(r.opts.RecoveryPath)
	if req.Method == http.MethodPost {
		cp = recovery.AcknowledgeNotice(cp)
		if err := recovery.Save(r.opts.RecoveryPath, cp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, cp)
}

func (r *Runtime) handleControl(action func() dictation.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, action())
	}
}

func (r *Runtime) handleMode(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch pipeline.Mode(body.Mode) {
	case pipeline.ModePushToToggle, pipeline.ModePushToTalk:
	default:
		http.Error(w, "unknown mode", http.StatusBadRequest)
		return
	}
	writeJSON(w, r.orch.SetMode(pipeline.Mode(body.Mode)))
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
