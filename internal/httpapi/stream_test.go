package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"organlink.org/internal/stream"
)

func TestEventsDeliversPublishedEvents(t *testing.T) {
	s := stream.New()
	srv := httptest.NewServer(Events(s))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}

	// publish once the handler has subscribed
	go func() {
		for i := 0; i < 100; i++ {
			if s.Subscribers() > 0 {
				s.Publish(stream.Event{ID: "e1", RecipientID: "r1", Type: "match"})
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, `"id":"e1"`) {
				t.Fatalf("unexpected payload: %s", line)
			}
			return
		}
	}
	t.Fatalf("no event received: %v", scanner.Err())
}
