package main

import (
	"context"
	"encoding/json"
	"errors"
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
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/identity-core/internal/ingest"
	"github.com/sells-group/identity-core/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingest HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/people", handleAddPerson(env))
	r.Post("/v2/hooks/person-on-website", handleWebsiteVisit(env))
	r.Post("/v2/hooks/post-call/{provider}/{client}", handlePostCall(env))

	return r
}

// handleAddPerson validates the request, acknowledges it, then resolves
// the person after the response is written.
func handleAddPerson(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingest.AddPersonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})

		go func(ctx context.Context) {
			if _, _, err := env.Pipeline.AddPerson(ctx, req); err != nil {
				zap.L().Error("add person failed",
					zap.String("client", req.Client),
					zap.Error(err),
				)
			}
		}(context.WithoutCancel(r.Context()))
	}
}

// handleWebsiteVisit looks the person up before acknowledging; the hook
// contract promises a 404 for unknown persons. Everything after the
// lookup runs once the response is written.
func handleWebsiteVisit(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev ingest.WebsiteVisitEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		person, err := env.Pipeline.LookupWebsiteVisitor(r.Context(), ev)
		if err != nil {
			switch {
			case model.IsValidation(err):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, model.ErrNotFound):
				writeError(w, http.StatusNotFound, "no person matches the details provided")
			default:
				zap.L().Error("website visitor lookup failed",
					zap.String("client", ev.Client),
					zap.Error(err),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})

		go func(ctx context.Context) {
			if err := env.Pipeline.CompleteWebsiteVisit(ctx, person, ev); err != nil {
				zap.L().Error("website visit processing failed",
					zap.String("client", ev.Client),
					zap.Error(err),
				)
			}
		}(context.WithoutCancel(r.Context()))
	}
}

// handlePostCall acknowledges the telephony provider immediately;
// providers retry aggressively on anything but a 2xx.
func handlePostCall(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		client := chi.URLParam(r, "client")

		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})

		go func(ctx context.Context) {
			if err := env.Pipeline.HandlePhoneCall(ctx, client, provider, payload); err != nil {
				zap.L().Error("post-call processing failed",
					zap.String("client", client),
					zap.String("provider", provider),
					zap.Error(err),
				)
			}
		}(context.WithoutCancel(r.Context()))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
