package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"ecomdash/charts"
	"ecomdash/config"
	"ecomdash/dashboard"
	"ecomdash/export"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server serves the dashboard over one loaded table. The table is never
// mutated, every request derives its own report from it.
type Server struct {
	table  *dashboard.Table
	cfg    *config.Config
	logger *zap.Logger
	source string
}

func New(table *dashboard.Table, cfg *config.Config, logger *zap.Logger, source string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{table: table, cfg: cfg, logger: logger, source: source}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.Server.Timeout > 0 {
		r.Use(middleware.Timeout(time.Duration(s.cfg.Server.Timeout) * time.Second))
	}

	r.Get("/", s.handleIndex)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/bounds", s.handleBounds)
		r.Get("/report", s.handleReport)
		r.Get("/summary", s.handleSummary)
	})
	r.Get("/charts/{name}", s.handleChart)
	r.Get("/export/{format}", s.handleExport)
	return r
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("dashboard shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// report parses ?start=&end= and builds the report. A bad range is the
// caller's fault and is answered with 400.
func (s *Server) report(w http.ResponseWriter, r *http.Request) (*dashboard.Report, bool) {
	q := r.URL.Query()
	sel, err := dashboard.ParseSelection(q.Get("start"), q.Get("end"), s.table.Bounds())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	rep, err := dashboard.BuildReport(s.table, sel, dashboard.ReportOptions{
		Category:  dashboard.CategoryOptions{Missing: s.cfg.Dashboard.MissingCategory},
		TopCities: s.cfg.Dashboard.TopCities,
		Logger:    s.logger,
	})
	if err != nil {
		s.internalError(w, r, err)
		return nil, false
	}
	return rep, true
}

func (s *Server) handleBounds(w http.ResponseWriter, _ *http.Request) {
	b := s.table.Bounds()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"first": b.First.Format(time.DateOnly),
		"last":  b.Last.Format(time.DateOnly),
		"days":  b.Days(),
		"rows":  s.table.Len(),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, rep.Summary)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(chi.URLParam(r, "name"), ".png")
	if !slices.Contains(charts.Names, name) {
		s.writeError(w, http.StatusNotFound, charts.ErrUnknownChart(name).Error())
		return
	}
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := charts.Render(w, name, rep); err != nil {
		s.internalError(w, r, err)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	rep, ok := s.report(w, r)
	if !ok {
		return
	}
	env := export.NewEnvelope(s.source, rep)
	filename := fmt.Sprintf("report_%s.%s", rep.Selection, format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	switch format {
	case export.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
		err = export.WriteJSON(w, env)
	case export.FormatXLSX:
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		err = export.WriteXLSX(w, rep)
	}
	if err != nil {
		s.internalError(w, r, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// writeJSON encodes v fully before the status line is written. Encoding
// failures are logged and answered with 500.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Error("encode response", zap.Int("status", status), zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
