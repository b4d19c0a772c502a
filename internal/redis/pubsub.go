package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelEventsChanged = "boxoffice:v1:events:changed"

// EventsPubSub fans out catalog-change notifications so every instance can
// drop its cached views of the touched event.
type EventsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewEventsPubSub(rdb *redis.Client) *EventsPubSub {
	return &EventsPubSub{rdb: rdb, channel: channelEventsChanged}
}

type eventChangedMsg struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	TsUnix  int64  `json:"ts_unix"`
}

// PublishEventChanged announces that the event's catalog rows changed. A nil
// receiver is a no-op so callers need no Redis guard.
func (p *EventsPubSub) PublishEventChanged(ctx context.Context, eventID string) error {
	if p == nil || p.rdb == nil {
		return nil
	}

	b, _ := json.Marshal(eventChangedMsg{
		Type:    "event_changed",
		EventID: eventID,
		TsUnix:  time.Now().Unix(),
	})
	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe delivers event IDs from change notifications to handler until
// ctx is done.
func (p *EventsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, eventID string)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev eventChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil && ev.EventID != "" {
				handler(ctx, ev.EventID)
			}
		}
	}
}
