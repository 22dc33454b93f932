package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
	"github.com/livinlefevreloca/powa-collector/internal/scheduler"
	"github.com/livinlefevreloca/powa-collector/internal/stats"
)

const apiV1Path = "/v1/"

// Exporter produces statistics exports
type Exporter interface {
	Export(ctx context.Context, kind stats.Kind, dbid stats.Namespace, info *stats.ResultInfo) error
}

// StatusProvider reports the snapshot worker status
type StatusProvider interface {
	Status() scheduler.Status
}

// Server serves the statistics exports and the worker status over HTTP
type Server struct {
	exporter Exporter
	status   StatusProvider
	logger   *slog.Logger
	mux      *mux.Router
}

// NewServer creates the API server
func NewServer(exporter Exporter, status StatusProvider, logger *slog.Logger) *Server {
	s := &Server{
		exporter: exporter,
		status:   status,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	routeDefinitions := []struct {
		endpoint string
		handler  http.HandlerFunc
	}{
		{"databases/{dbid}/functions", s.exportHandler(stats.KindFunction)},
		{"databases/{dbid}/relations", s.exportHandler(stats.KindRelation)},
		{"status", s.statusHandler},
	}

	for _, route := range routeDefinitions {
		s.mux.HandleFunc(apiV1Path+route.endpoint, route.handler).Methods(http.MethodGet)
	}
	s.mux.Use(s.logRequests)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONResponse(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	// Headers are already sent, an encoding error cannot be reported
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) exportHandler(kind stats.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbid, err := strconv.ParseUint(mux.Vars(r)["dbid"], 10, 32)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, errorResponse{Error: "invalid database id"})
			return
		}

		info := stats.NewResultInfo(kind)
		err = s.exporter.Export(r.Context(), kind, stats.Namespace(dbid), info)
		switch {
		case err == nil:
			writeJSONResponse(w, http.StatusOK, info.Result)
		case stats.IsFeatureNotSupported(err):
			writeJSONResponse(w, http.StatusNotImplemented, errorResponse{Error: err.Error()})
		case errors.Is(err, context.DeadlineExceeded):
			writeJSONResponse(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
		default:
			s.logger.Error("export failed", "kind", kind.String(), "dbid", dbid, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "failed to read statistics"})
		}
	}
}

type statusResponse struct {
	State       string     `json:"state"`
	Enabled     bool       `json:"enabled"`
	FrequencyMS int        `json:"frequency_ms"`
	LastStart   *time.Time `json:"last_start,omitempty"`
	Cycles      int64      `json:"cycles"`
	LastCycleID string     `json:"last_cycle_id,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()

	resp := statusResponse{
		State:       st.State.String(),
		Enabled:     st.Frequency != policy.Disabled,
		FrequencyMS: int(st.Frequency),
		Cycles:      st.Cycles,
		LastCycleID: st.LastCycleID,
		LastError:   st.LastError,
	}
	if !st.LastStart.IsZero() {
		lastStart := st.LastStart
		resp.LastStart = &lastStart
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
