package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/moodbytes/internal/middleware"
	"github.com/hitoshi/moodbytes/internal/notify"
)

// defaultHeartbeatInterval はSSEのハートビート間隔。
const defaultHeartbeatInterval = 15 * time.Second

// EventSubscriber はプリンシパル単位の通知購読インターフェース。
type EventSubscriber interface {
	Subscribe(principalID string) (<-chan notify.Event, func())
}

// EventsHandler はServer-Sent Eventsで通知を配信するHTTPハンドラー。
type EventsHandler struct {
	subscriber EventSubscriber
	heartbeat  time.Duration
}

// NewEventsHandler はEventsHandlerを生成する。
func NewEventsHandler(subscriber EventSubscriber, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &EventsHandler{
		subscriber: subscriber,
		heartbeat:  heartbeat,
	}
}

// Stream はログインユーザー宛ての通知をSSEで配信する。
// クライアントが切断するまでブロックする。
// GET /api/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("streaming unsupported by response writer")
		middleware.WriteInternalServerError(w)
		return
	}

	// サーバー全体のWriteTimeoutをこのストリームでは解除する
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("failed to clear write deadline", slog.String("error", err.Error()))
	}

	events, cancel := h.subscriber.Subscribe(userID)
	defer cancel()

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, "retry: 2000\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
