// SPDX-License-Identifier: MPL-2.0

package controlserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/newrev/newrev/internal/supervisor"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeBackendRequest(w, r)
	if !ok {
		return
	}
	// The start outlives a UI that disconnects mid-request; only server
	// shutdown cancels it.
	err := s.opts.Backend.Start(s.base.Context(), req.ProjectPath)
	s.writeResult(w, err)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeBackendRequest(w, r)
	if !ok {
		return
	}
	err := s.opts.Backend.Restart(s.base.Context(), req.ProjectPath)
	s.writeResult(w, err)
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.writeResult(w, s.opts.Backend.Stop())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.opts.Backend.Status()
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLogs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, LogsResponse{Events: s.opts.Events.ReadAll()})
}

func (s *Server) handleClearLogs(w http.ResponseWriter, _ *http.Request) {
	s.opts.Events.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// decodeBackendRequest reads an optional BackendRequest body.
func (s *Server) decodeBackendRequest(w http.ResponseWriter, r *http.Request) (BackendRequest, bool) {
	var req BackendRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return req, false
	}
	return req, true
}

// writeResult answers a backend operation with its outcome and the status
// that followed it.
func (s *Server) writeResult(w http.ResponseWriter, err error) {
	st := s.opts.Backend.Status()
	resp := BackendResponse{Success: err == nil, Status: &st}
	if err != nil {
		resp.Error = supervisor.Describe(err)
		s.logger.Debug("backend operation failed", "kind", resp.Error.Kind, "err", err)
	}
	s.writeJSON(w, statusFor(err), resp)
}

func statusFor(err error) int {
	switch supervisor.KindOf(err) {
	case "":
		return http.StatusOK
	case supervisor.KindInvalidState, supervisor.KindPortInUse:
		return http.StatusConflict
	case supervisor.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Error: msg})
}
