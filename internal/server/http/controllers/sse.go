package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// sseWriter formats stream parts as Server-Sent Events.
type sseWriter struct {
	w http.ResponseWriter
}

func newSSEWriter(w http.ResponseWriter) sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return sseWriter{w: w}
}

// Part sends one part as a data event whose id is the part index.
func (s sseWriter) Part(p partEvent) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.event("", strconv.FormatInt(p.Index, 10), b)
}

// End sends the terminal "end" event.
func (s sseWriter) End() error {
	return s.event("end", "", []byte("{}"))
}

// Error sends the terminal "error" event.
func (s sseWriter) Error(msg string) error {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return s.event("error", "", b)
}

func (s sseWriter) event(name, id string, data []byte) error {
	buf := make([]byte, 0, len(data)+32)
	if name != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, name...)
		buf = append(buf, '\n')
	}
	if id != "" {
		buf = append(buf, "id: "...)
		buf = append(buf, id...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	s.Flush()
	return nil
}

// Flush flushes the HTTP response writer if it supports flushing.
//
// This ensures that SSE events are immediately sent to the client.
func (s sseWriter) Flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}
