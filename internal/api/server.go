package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"sip2ha/internal/call"
	"sip2ha/internal/signaling"
)

// Server exposes the orchestrator's commands and event stream over the
// local network. Errors map onto the canonical taxonomy: NotRegistered is
// 503, SessionNotFound is 404, InvalidSessionState is 409.
type Server struct {
	orch *call.Orchestrator
	log  *logrus.Entry
	http *http.Server
}

// NewServer creates an API server bound to addr.
func NewServer(addr string, orch *call.Orchestrator, log *logrus.Entry) *Server {
	s := &Server{orch: orch, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /call", s.handleMakeCall)
	mux.HandleFunc("POST /call/{id}/answer", s.handleAnswer)
	mux.HandleFunc("POST /call/{id}/hangup", s.handleHangup)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Infof("API listening on %s", s.http.Addr)
		errc <- s.http.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

type makeCallRequest struct {
	To    string `json:"to"`
	Audio *bool  `json:"audio,omitempty"`
	Video bool   `json:"video,omitempty"`
}

type makeCallResponse struct {
	SessionID string `json:"session_id"`
}

type answerRequest struct {
	Audio *bool `json:"audio,omitempty"`
	Video bool  `json:"video,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleMakeCall(w http.ResponseWriter, r *http.Request) {
	var req makeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.To == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing target"})
		return
	}

	id, err := s.orch.MakeCall(req.To, mediaRequest(req.Audio, req.Video))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, makeCallResponse{SessionID: id})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	if err := s.orch.AnswerCall(r.PathValue("id"), mediaRequest(req.Audio, req.Video)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.HangupCall(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

// handleEvents streams lifecycle events as server-sent events. Delivery is
// best effort; a client that reconnects re-syncs via GET /status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	sub := s.orch.Subscribe()
	defer s.orch.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.log.Warnf("marshal event %s: %v", ev.EventName(), err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventName(), payload)
			flusher.Flush()
		}
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, call.ErrNotRegistered), errors.Is(err, call.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, call.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, call.ErrInvalidSessionState):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// mediaRequest defaults audio to on; callers opt out explicitly.
func mediaRequest(audio *bool, video bool) signaling.MediaRequest {
	m := signaling.MediaRequest{Audio: true, Video: video}
	if audio != nil {
		m.Audio = *audio
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
