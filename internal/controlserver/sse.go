// SPDX-License-Identifier: MPL-2.0

package controlserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/newrev/newrev/internal/lifecyclelog"
)

// sseWriter writes server-sent events and flushes after each one.
type sseWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func startSSE(w http.ResponseWriter) (*sseWriter, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := &sseWriter{w: w, rc: http.NewResponseController(w)}
	return sw, sw.rc.Flush()
}

func (sw *sseWriter) send(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	return sw.rc.Flush()
}

func (sw *sseWriter) keepAlive() error {
	if _, err := io.WriteString(sw.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	return sw.rc.Flush()
}

// handleEvents replays the retained events and then streams live ones.
// The subscription is taken before the snapshot so nothing written in
// between is lost; live events already in the snapshot are skipped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch, unsubscribe := s.opts.Events.Subscribe()
	defer unsubscribe()
	snapshot := s.opts.Events.ReadAll()

	sw, err := startSSE(w)
	if err != nil {
		s.logger.Debug("event stream", "err", err)
		return
	}

	seen := make(map[lifecyclelog.Event]int, len(snapshot))
	for _, e := range snapshot {
		seen[e]++
		if err := sw.send(sseEvent, e); err != nil {
			return
		}
	}

	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sw.keepAlive(); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			if seen[e] > 0 {
				seen[e]--
				continue
			}
			if err := sw.send(sseEvent, e); err != nil {
				return
			}
		}
	}
}

// handleProgress streams provisioning progress, starting with the most
// recent update if there is one.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.opts.Progress == nil {
		s.writeError(w, http.StatusNotFound, "provisioning progress is not available")
		return
	}
	ch, unsubscribe := s.opts.Progress.Subscribe()
	defer unsubscribe()

	sw, err := startSSE(w)
	if err != nil {
		return
	}
	if last, ok := s.opts.Progress.Last(); ok {
		if err := sw.send(sseProgress, last); err != nil {
			return
		}
	}

	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sw.keepAlive(); err != nil {
				return
			}
		case p, ok := <-ch:
			if !ok {
				return
			}
			if err := sw.send(sseProgress, p); err != nil {
				return
			}
		}
	}
}
