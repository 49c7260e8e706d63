package handler

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/moodbytes/internal/notify"
)

func TestEventsHandler_StreamsProfileChanged(t *testing.T) {
	broker := notify.NewBroker(nil)
	h := NewEventsHandler(broker, time.Hour)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Stream(w, withUserID(r, "user-1"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	reader := bufio.NewReader(resp.Body)

	// retry行を読み終えた時点で購読は登録済み
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "retry:") {
		t.Fatalf("first line = %q, err = %v", line, err)
	}
	if n := broker.Subscribers("user-1"); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}

	broker.ProfileChanged("user-2", "search_saved")
	broker.ProfileChanged("user-1", "search_saved")

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(line)
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(line)
		}
	}

	if eventLine != "event: profile_changed" {
		t.Errorf("event line = %q", eventLine)
	}
	if !strings.Contains(dataLine, `"reason":"search_saved"`) {
		t.Errorf("data line = %q", dataLine)
	}
	if strings.Contains(dataLine, "user-") {
		t.Errorf("principal id must not be sent: %q", dataLine)
	}
}

func TestEventsHandler_UnsubscribesOnDisconnect(t *testing.T) {
	broker := notify.NewBroker(nil)
	h := NewEventsHandler(broker, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx), "user-1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.Stream(w, req)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers("user-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not return after disconnect")
	}

	if n := broker.Subscribers("user-1"); n != 0 {
		t.Errorf("subscribers after disconnect = %d, want 0", n)
	}
}

func TestEventsHandler_RequiresUser(t *testing.T) {
	h := NewEventsHandler(notify.NewBroker(nil), 0)

	w := httptest.NewRecorder()
	h.Stream(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
