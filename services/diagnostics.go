package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"exoskeleton/models"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// SnapshotSource is what the diagnostics endpoint reads.
type SnapshotSource interface {
	Snapshot() UnitSnapshot
}

// DiagnosticsServer exposes a read-only view of a unit over HTTP.
type DiagnosticsServer struct {
	source SnapshotSource
	logger *zap.Logger
	server *http.Server
}

// NewDiagnosticsServer creates a server listening on addr.
func NewDiagnosticsServer(addr string, source SnapshotSource, logger *zap.Logger) *DiagnosticsServer {
	d := &DiagnosticsServer{source: source, logger: logger}
	d.server = &http.Server{
		Addr:              addr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return d
}

// Handler returns the routed, logged handler.
func (d *DiagnosticsServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", d.getHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", d.getStatus).Methods(http.MethodGet)

	accessLog := zap.NewStdLog(d.logger).Writer()
	return handlers.RecoveryHandler()(handlers.LoggingHandler(accessLog, r))
}

// Start serves in the background.
func (d *DiagnosticsServer) Start() {
	go func() {
		d.logger.Info("Diagnostics listening", zap.String("addr", d.server.Addr))
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("Diagnostics server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (d *DiagnosticsServer) Shutdown(ctx context.Context) error {
	return d.server.Shutdown(ctx)
}

func (d *DiagnosticsServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	snap := d.source.Snapshot()

	code := http.StatusOK
	status := "ok"
	if snap.Connection.State != models.Ready.String() {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}

	writeJSON(w, code, map[string]string{
		"status":     status,
		"connection": snap.Connection.State,
		"actuation":  snap.Actuation.State,
	})
}

func (d *DiagnosticsServer) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.source.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
