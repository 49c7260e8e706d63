// Package notify はプリンシパル単位の変更通知（publish/subscribe）を提供する。
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// EventProfileChanged はプロフィールを再取得すべきことを示すイベント種別。
const EventProfileChanged = "profile_changed"

// subscriberBuffer は購読者ごとのチャネルバッファ長。
const subscriberBuffer = 8

// Event は購読者に配信される通知。
type Event struct {
	Type        string    `json:"type"`
	PrincipalID string    `json:"-"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher は通知の発行インターフェース。
type Publisher interface {
	Publish(ev Event)
}

// Broker はプリンシパルをトピックとする通知ブローカー。
// 配信はノンブロッキングで、バッファが満杯の購読者への通知は破棄する。
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[chan Event]struct{}
	logger *slog.Logger
	now    func() time.Time
}

// NewBroker は新しいBrokerを生成する。
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		topics: make(map[string]map[chan Event]struct{}),
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe はプリンシパルの通知を購読する。
// 返されたcancelを呼ぶとチャネルが閉じられる。cancelは複数回呼んでもよい。
func (b *Broker) Subscribe(principalID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.topics[principalID] == nil {
		b.topics[principalID] = make(map[chan Event]struct{})
	}
	b.topics[principalID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.topics[principalID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.topics, principalID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish はプリンシパルの全購読者に通知を配信する。
func (b *Broker) Publish(ev Event) {
	if ev.PrincipalID == "" {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.topics[ev.PrincipalID] {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("購読者のバッファが満杯のため通知を破棄しました",
				slog.String("user_id", ev.PrincipalID),
				slog.String("event", ev.Type),
			)
		}
	}
}

// ProfileChanged はプロフィール変更通知を発行する。
func (b *Broker) ProfileChanged(principalID, reason string) {
	b.Publish(Event{Type: EventProfileChanged, PrincipalID: principalID, Reason: reason})
}

// Subscribers は指定プリンシパルの購読者数を返す。
func (b *Broker) Subscribers(principalID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[principalID])
}

// compile-time interface check
var _ Publisher = (*Broker)(nil)
