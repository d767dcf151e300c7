package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dark30-ventures/intent-cli/internal/state"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only status server",
	Long:  "Serves the latest QA report, per-source health, and budget usage over HTTP for dashboards.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           statusRouter(st),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("serve: listening", zap.Int("port", port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return eris.Wrap(err, "serve: shutdown")
			}
			zap.L().Info("serve: stopped")
			return nil
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "serve: listen")
			}
			return nil
		}
	},
}

func statusRouter(st state.Store) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", func(w http.ResponseWriter, req *http.Request) {
			stats, err := st.Stats(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			window := "month:" + time.Now().UTC().Format("2006-01")
			used, err := st.BudgetUsed(req.Context(), window)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"store": stats,
				"budget": map[string]any{
					"window":    window,
					"used":      used,
					"limit":     cfg.Verify.BudgetPerMonth,
					"remaining": cfg.Verify.BudgetPerMonth - used,
				},
			})
		})

		r.Get("/qa/latest", func(w http.ResponseWriter, req *http.Request) {
			report, err := st.LatestReport(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if report == nil {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "no finished runs"})
				return
			}
			writeJSON(w, http.StatusOK, report)
		})

		r.Get("/sources", func(w http.ResponseWriter, req *http.Request) {
			out := make([]*state.SourceHealth, 0, len(cfg.Sources))
			for _, src := range cfg.Sources {
				health, err := st.SourceState(req.Context(), src.ID)
				if err != nil {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
					return
				}
				if health == nil {
					health = &state.SourceHealth{SourceID: src.ID}
				}
				out = append(out, health)
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Get("/budget", func(w http.ResponseWriter, req *http.Request) {
			window := "month:" + time.Now().UTC().Format("2006-01")
			used, err := st.BudgetUsed(req.Context(), window)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"window":    window,
				"used":      used,
				"limit":     cfg.Verify.BudgetPerMonth,
				"remaining": cfg.Verify.BudgetPerMonth - used,
			})
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
