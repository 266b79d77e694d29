// Package server exposes the tester's control surface: a small JSON API for
// starting and stopping runs plus a WebSocket event stream for operator UIs.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Soochol/WF-EOL-TESTER-sub007/orchestrator"
)

// TestRunner is the slice of the orchestrator the API needs.
type TestRunner interface {
	Start(serialNumber string) (string, error)
	Cancel()
	IsRunning() bool
	Status() orchestrator.Status
	LastRun() *orchestrator.TestRun
}

type Server struct {
	mux     *http.ServeMux
	runs    TestRunner
	results *ResultStore
	hub     *WSHub
	log     *logrus.Entry
}

func New(runs TestRunner, results *ResultStore, hub *WSHub, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if results == nil {
		results = NewResultStore()
	}
	if hub == nil {
		hub = NewWSHub()
	}
	s := &Server{
		mux:     http.NewServeMux(),
		runs:    runs,
		results: results,
		hub:     hub,
		log:     log.WithField("component", "server"),
	}

	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/results", s.handleResults)
	s.mux.HandleFunc("/api/test/start", s.handleTestStart)
	s.mux.HandleFunc("/api/test/stop", s.handleTestStop)

	s.mux.HandleFunc("/ws/events", s.handleWSEvents)

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Events returns the hub so the orchestrator can publish into it.
func (s *Server) Events() *WSHub { return s.hub }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Status:  s.runs.Status(),
		Running: s.runs.IsRunning(),
		LastRun: s.runs.LastRun(),
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if id := r.URL.Query().Get("id"); id != "" {
		run, ok := s.results.Get(id)
		if !ok {
			s.writeJSON(w, http.StatusNotFound, APIError{Error: "unknown run id"})
			return
		}
		s.writeJSON(w, http.StatusOK, run)
		return
	}
	s.writeJSON(w, http.StatusOK, s.results.List())
}

func (s *Server) handleTestStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req StartRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, APIError{Error: "invalid request body"})
		return
	}
	if req.SerialNumber == "" {
		s.writeJSON(w, http.StatusBadRequest, APIError{Error: "serial_number is required"})
		return
	}
	runID, err := s.runs.Start(req.SerialNumber)
	if err != nil {
		s.writeJSON(w, http.StatusConflict, APIError{Error: err.Error()})
		return
	}
	s.log.WithFields(logrus.Fields{"run": runID, "serial": req.SerialNumber}).Info("test started via API")
	s.writeJSON(w, http.StatusAccepted, StartResponse{RunID: runID})
}

func (s *Server) handleTestStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if !s.runs.IsRunning() {
		s.writeJSON(w, http.StatusConflict, APIError{Error: "no test is running"})
		return
	}
	s.runs.Cancel()
	s.writeJSON(w, http.StatusOK, StopResponse{OK: true})
}
