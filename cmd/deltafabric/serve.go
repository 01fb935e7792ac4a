package main

// serve.go – optional HTTP shell, a thin collaborator rather than the
// system of record: chi routes the kernel's operations onto JSON
// request/response bodies, and gorilla/websocket carries state.stream to a
// browser or long-lived client.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/deltafabric/deltafabric/cmd/cli"
	core "github.com/deltafabric/deltafabric/core"
	"github.com/deltafabric/deltafabric/pkg/config"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP shell (and metrics endpoint) over the kernel",
		RunE:  serveHandler,
	}
}

func serveHandler(cmd *cobra.Command, _ []string) error {
	kernel := cli.Kernel()
	if kernel == nil {
		return errors.New("kernel not initialised")
	}
	cfg := config.AppConfig

	r := chi.NewRouter()
	r.Use(middleware.Logger, middleware.Recoverer)

	r.Get("/health", withErr(func(w http.ResponseWriter, req *http.Request) error {
		return writeJSON(w, kernel.Health(config.Version))
	}))
	r.Get("/state", withErr(func(w http.ResponseWriter, req *http.Request) error {
		out, err := kernel.GetUnifiedState()
		if err != nil {
			return err
		}
		return writeJSON(w, out)
	}))
	r.Get("/state/stream", streamHandler(kernel))
	r.Get("/work/status", withErr(func(w http.ResponseWriter, req *http.Request) error {
		return writeJSON(w, kernel.WorkStatus())
	}))
	r.Get("/timeline/stats", withErr(func(w http.ResponseWriter, req *http.Request) error {
		return writeJSON(w, kernel.TimelineStatsOp())
	}))
	r.Get("/daemon/status", withErr(func(w http.ResponseWriter, req *http.Request) error {
		return writeJSON(w, kernel.DaemonStatusOp())
	}))

	var metricsSrv *http.Server
	if kernel.Metrics != nil {
		metricsSrv = kernel.Metrics.ServeHTTP(cfg.Metrics.ListenAddr)
	}

	srv := &http.Server{Addr: cfg.HTTP.ListenAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			kernel.Log.WithError(err).Error("http server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = kernel.Metrics.ShutdownHTTP(shutdownCtx, metricsSrv)
	}
	return nil
}

func withErr(fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(w, err)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if e, ok := err.(*core.Error); ok {
		switch e.Kind {
		case core.KindValidation, core.KindSignature:
			status = http.StatusBadRequest
		case core.KindConflict:
			status = http.StatusConflict
		case core.KindNotFound:
			status = http.StatusNotFound
		case core.KindCapacity:
			status = http.StatusServiceUnavailable
		case core.KindMode:
			status = http.StatusForbidden
		case core.KindTimeout:
			status = http.StatusGatewayTimeout
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(e)
		return
	}
	http.Error(w, err.Error(), status)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize: 1024, WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamHandler bridges state.stream's Go channel onto a websocket
// connection; the connection closes cleanly whenever the client
// disconnects, which cancels the request context and in turn the channel
// passed to StreamState.
func streamHandler(kernel *core.KernelContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		events := kernel.StreamState(r.Context())
		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
