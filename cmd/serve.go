package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hcpcs-cli/internal/model"
	"github.com/sells-group/hcpcs-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stored catalog and reports as a read-only JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newRouter builds the API. Every route only reads from the store.
func newRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	h := &apiHandler{store: st}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/codes", func(r chi.Router) {
		r.Get("/", h.listCodes)
		r.Get("/{code}", h.codeHistory)
	})
	r.Route("/reports", func(r chi.Router) {
		r.Get("/groups", h.groups)
		r.Get("/categories", h.categories)
		r.Get("/multi-version", h.multiVersion)
		r.Get("/expired", h.expired)
	})
	return r
}

type apiHandler struct {
	store store.Store
}

func (h *apiHandler) listCodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	rows, err := h.store.ListRows(r.Context(), model.RowFilter{
		GroupCode:  q.Get("group"),
		ActiveOnly: q.Get("active") == "true",
		Limit:      limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

func (h *apiHandler) codeHistory(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	rows, err := h.store.History(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "code not found")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *apiHandler) groups(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.GroupCounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *apiHandler) categories(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r.URL.Query().Get("top"), 5)
	if err != nil || top <= 0 {
		writeError(w, http.StatusBadRequest, "top must be a positive integer")
		return
	}
	out, err := h.store.TopCategories(r.Context(), top)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *apiHandler) multiVersion(w http.ResponseWriter, r *http.Request) {
	out, err := h.store.MultiVersionCodes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *apiHandler) expired(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	activeBy, err := dateParam(q.Get("active_by"), "2022-12-31")
	if err != nil {
		writeError(w, http.StatusBadRequest, "active_by must be YYYY-MM-DD")
		return
	}
	expiredBefore, err := dateParam(q.Get("expired_before"), "2024-01-01")
	if err != nil {
		writeError(w, http.StatusBadRequest, "expired_before must be YYYY-MM-DD")
		return
	}
	out, err := h.store.ExpiredBetween(r.Context(), activeBy, expiredBefore)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *apiHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func dateParam(s, def string) (model.Date, error) {
	if s == "" {
		s = def
	}
	return model.ParseISODate(s)
}

// nonNil renders empty results as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
