package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"github.com/sells-group/underwrite-cli/internal/failure"
	"github.com/sells-group/underwrite-cli/internal/intake"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/pipeline"
	"github.com/sells-group/underwrite-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for intake, stage runs and reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(env, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api serves the underwriting HTTP routes.
type api struct {
	env *appEnv
}

func buildRouter(env *appEnv, origins []string) http.Handler {
	a := &api{env: env}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/properties", func(r chi.Router) {
		r.Post("/", a.createProperty)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getProperty)
			r.Post("/run", a.runProperty)
			r.Post("/stages/{stage}/run", a.runStage)
			r.Post("/advance", a.advance)
			r.Post("/comps", a.importComps)
			r.Get("/report", a.report)
		})
	})
	r.Patch("/results/{id}", a.patchResult)

	return r
}

func (a *api) createProperty(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Intake JSON is valid YAML and shares its field names.
	in, err := intake.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := a.env.Store.CreateProperty(r.Context(), in)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *api) getProperty(w http.ResponseWriter, r *http.Request) {
	s, err := loadStatus(r.Context(), a.env.Store, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *api) runProperty(w http.ResponseWriter, r *http.Request) {
	p, err := a.env.Runner.Run(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) runStage(w http.ResponseWriter, r *http.Request) {
	stage := model.Stage(chi.URLParam(r, "stage"))
	res, err := a.env.Runner.RunStage(r.Context(), chi.URLParam(r, "id"), stage)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) advance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	next, err := a.env.Runner.Advance(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"property_id": id, "stage": next})
}

func (a *api) importComps(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Source string            `json:"source"`
		Comps  []model.SalesComp `json:"comps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	if len(req.Comps) == 0 {
		writeError(w, http.StatusBadRequest, eris.New("comps are required"))
		return
	}
	for i, c := range req.Comps {
		if c.Price <= 0 {
			writeError(w, http.StatusBadRequest, eris.Errorf("comp %d: price must be positive", i))
			return
		}
	}
	if _, err := a.env.Store.GetProperty(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	rows, err := intake.ImportComps(r.Context(), a.env.Store, id, req.Comps, source)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"property_id": id, "imported": len(rows)})
}

func (a *api) report(w http.ResponseWriter, r *http.Request) {
	doc, err := renderReport(r.Context(), a.env.Store, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

func (a *api) patchResult(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, eris.New("no fields to patch"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.env.Store.PatchResult(r.Context(), id, fields); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result_id": id, "patched": fields})
}

// statusFor maps pipeline and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case store.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrUnknownStage):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrStageAhead),
		errors.Is(err, pipeline.ErrStageIncomplete),
		errors.Is(err, pipeline.ErrTerminal),
		store.IsDerivedResult(err):
		return http.StatusConflict
	}
	switch failure.Classify(err) {
	case failure.KindMissingDependency:
		return http.StatusConflict
	case failure.KindConfiguration, failure.KindArithmeticDegenerate:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	body := map[string]string{"error": err.Error()}
	if kind := failure.Classify(err); kind != failure.KindInternal {
		body["kind"] = string(kind)
	}
	writeJSON(w, status, body)
}
