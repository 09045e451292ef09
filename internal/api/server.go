// Package api serves the expression host over HTTP: status, commands and
// training reports.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"
	"tailscale.com/tsweb"

	"github.com/banshee-data/expression.report/internal/db"
	"github.com/banshee-data/expression.report/internal/expression"
	"github.com/banshee-data/expression.report/internal/expression/codec"
	"github.com/banshee-data/expression.report/internal/expression/statefile"
	"github.com/banshee-data/expression.report/internal/host"
	"github.com/banshee-data/expression.report/internal/report"
	"github.com/banshee-data/expression.report/internal/tracking/network"
	"github.com/banshee-data/expression.report/internal/version"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxCommandBody bounds POST /api/command bodies.
const maxCommandBody = 64 << 10

// commandTimeout bounds how long a request waits for the engine goroutine.
const commandTimeout = 30 * time.Second

// Controller is the part of host.Runner the API drives.
type Controller interface {
	Status() host.Status
	Do(ctx context.Context, cmd host.Command) (host.Reply, error)
}

type Server struct {
	ctrl  Controller
	db    *db.DB
	stats *network.PacketStats
}

// NewServer creates a server. database and stats may be nil.
func NewServer(ctrl Controller, database *db.DB, stats *network.PacketStats) *Server {
	return &Server{
		ctrl:  ctrl,
		db:    database,
		stats: stats,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes plus the /debug/ pages.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/labels", s.showLabels)
	mux.HandleFunc("/api/command", s.sendCommand)
	mux.HandleFunc("/api/network", s.showNetwork)
	mux.HandleFunc("/api/report/confusion", s.showConfusion)
	mux.HandleFunc("/api/report/errors.png", s.showErrorChart)

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KVFunc("Expression", func() any { return s.ctrl.Status().Expression })
	debug.KVFunc("Labels", func() any { return s.ctrl.Status().LabelCount })
	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.ctrl.Status())
}

type labelsResponse struct {
	Label       string         `json:"label"`
	Labels      []string       `json:"labels"`
	Counts      map[string]int `json:"counts"`
	ClassLabels []string       `json:"class_labels"`
}

func (s *Server) showLabels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	st := s.ctrl.Status()
	s.writeJSON(w, http.StatusOK, labelsResponse{
		Label:       st.Label,
		Labels:      nonNil(st.Labels),
		Counts:      st.Counts,
		ClassLabels: nonNil(st.ClassLabels),
	})
}

type commandResponse struct {
	host.Reply
	Error string `json:"error,omitempty"`
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBody+1))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read body: %v", err))
		return
	}
	if len(body) > maxCommandBody {
		s.writeJSONError(w, http.StatusRequestEntityTooLarge, "Command body too large")
		return
	}
	var cmd host.Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid command JSON: %v", err))
		return
	}
	if cmd.Name == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'command'")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	rep, err := s.ctrl.Do(ctx, cmd)
	if err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := commandResponse{Reply: rep}
	if rep.Err != nil {
		resp.Error = rep.Err.Error()
	}
	s.writeJSON(w, commandStatus(rep.Err), resp)
}

// commandStatus maps engine and host errors onto HTTP status codes.
func commandStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, host.ErrBadCommand), errors.Is(err, expression.ErrEmptyLabel):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound), errors.Is(err, statefile.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, host.ErrNoStore):
		return http.StatusConflict
	case errors.Is(err, expression.ErrTooFewClasses), errors.Is(err, expression.ErrTooManyClasses),
		errors.Is(err, codec.ErrFormat):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) showNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.stats == nil {
		s.writeJSONError(w, http.StatusNotFound, "No tracking input configured")
		return
	}
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// trainedMatrix returns the class labels and confusion of the last training.
func (s *Server) trainedMatrix() ([]string, *mat.Dense, float64, bool) {
	st := s.ctrl.Status()
	n := len(st.ClassLabels)
	if n == 0 || len(st.Confusion) != n {
		return nil, nil, 0, false
	}
	m := mat.NewDense(n, n, nil)
	for i, row := range st.Confusion {
		if len(row) != n {
			return nil, nil, 0, false
		}
		m.SetRow(i, row)
	}
	return st.ClassLabels, m, st.Accuracy, true
}

func (s *Server) showConfusion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	labels, confusion, accuracy, ok := s.trainedMatrix()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No training result")
		return
	}

	var buf bytes.Buffer
	if err := report.ConfusionHeatmap(&buf, labels, confusion, accuracy); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) showErrorChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	labels, confusion, _, ok := s.trainedMatrix()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No training result")
		return
	}

	var buf bytes.Buffer
	if err := report.ErrorRateChart(&buf, labels, confusion); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
