// Package httpapi holds the HTTP handlers mounted on matchd's diagnostics
// server.
package httpapi

import (
	"encoding/json"
	"net/http"

	"organlink.org/internal/stream"
)

// Events serves the live match notification feed over Server-Sent Events.
// The connection stays open until the client goes away; slow clients drop
// events rather than stalling the engine.
func Events(s *stream.Stream) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch := s.Subscribe(r.Context())

		// Send an initial comment to establish the stream
		_, _ = w.Write([]byte(": stream started\n\n"))
		flusher.Flush()

		for event := range ch {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
