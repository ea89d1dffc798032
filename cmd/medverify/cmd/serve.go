package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	verrors "github.com/medverify/medverify/internal/errors"
	"github.com/medverify/medverify/internal/scan"
	"github.com/medverify/medverify/internal/vision"
)

const maxUploadBytes = 20 << 20

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the verification HTTP API",
		Long: `Serve the HTTP API.

Routes:
  POST /v1/verify        {"query": "..."} -> verification result
  POST /v1/scan          image body -> scan + verification (?partial=1)
  POST /v1/frames        image body -> queued for the realtime detector
  GET  /v1/frames/latest -> latest realtime detection
  GET  /metrics          -> Prometheus metrics
  GET  /healthz          -> ok`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}

func runServe(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	pipeline := app.pipeline()
	worker := scan.NewFrameWorker(
		vision.NewDetector(app.cfg.Vision),
		app.cfg.Scan.ProcessEvery,
		app.cfg.Scan.MaxSide,
		app.logger,
		app.metrics,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/verify", handleVerify(app))
	mux.HandleFunc("POST /v1/scan", handleScan(app, pipeline))
	mux.HandleFunc("POST /v1/frames", handleFramePush(worker))
	mux.HandleFunc("GET /v1/frames/latest", handleFrameLatest(worker))
	mux.Handle("GET /metrics", app.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		slog.Info("http server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func handleVerify(app *app) http.HandlerFunc {
	type request struct {
		Query string `json:"query"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			writeServiceError(w, verrors.New(verrors.ErrCodeQueryEmpty, "query is required", nil))
			return
		}

		res, err := app.service.VerifyQuery(r.Context(), req.Query)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleScan(app *app, pipeline *scan.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			httpError(w, http.StatusBadRequest, "read request body")
			return
		}

		res, err := pipeline.Process(r.Context(), data, scan.ProcessOptions{
			ReturnPartial: r.URL.Query().Get("partial") == "1",
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		verified, err := app.service.VerifyScan(r.Context(), res)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, verified)
	}
}

func handleFramePush(worker *scan.FrameWorker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil || len(data) == 0 {
			httpError(w, http.StatusBadRequest, "empty frame")
			return
		}
		worker.Push(data)
		w.WriteHeader(http.StatusAccepted)
	}
}

func handleFrameLatest(worker *scan.FrameWorker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		st := worker.Latest()
		if st == nil {
			httpError(w, http.StatusNotFound, "no frames processed yet")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *verrors.VerifyError
	if errors.As(err, &ve) {
		switch ve.Category {
		case verrors.CategoryValidation:
			status = http.StatusBadRequest
		case verrors.CategoryNetwork:
			status = http.StatusBadGateway
		}
	}
	httpError(w, status, err.Error())
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", slog.String("error", err.Error()))
	}
}
