package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ms-pickup/internal/models"
)

const changeChannelPrefix = "ticket_changes:"

// ChangeChannel returns the pub/sub channel name for a restaurant scope.
// Empty scope is the all-restaurants channel used by admin views.
func ChangeChannel(restaurantID string) string {
	if restaurantID == "" {
		return changeChannelPrefix + "all"
	}
	return changeChannelPrefix + restaurantID
}

// Notifier is the change-notification side of the data store: every ticket
// mutation is announced on the restaurant's channel and on the global one.
type Notifier struct {
	Client *redis.Client
}

func NewNotifier(client *redis.Client) *Notifier {
	return &Notifier{Client: client}
}

func (n *Notifier) PublishChange(ctx context.Context, change models.TicketChange) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	if err := n.Client.Publish(ctx, ChangeChannel(change.RestaurantID), payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return n.Client.Publish(ctx, ChangeChannel(""), payload).Err()
}

// Subscription is a live change feed for one scope. Close must be called on
// teardown or scope change so stale-scoped events stop being delivered.
type Subscription struct {
	pubsub  *redis.PubSub
	changes chan models.TicketChange
	done    chan struct{}
}

// Changes delivers decoded change events. The channel closes when the
// subscription is closed or the connection drops for good.
func (s *Subscription) Changes() <-chan models.TicketChange {
	return s.changes
}

func (s *Subscription) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	return s.pubsub.Close()
}

// SubscribeChanges opens a change feed for the given scope. Malformed
// payloads are dropped; a slow consumer delays delivery rather than losing
// events.
func (n *Notifier) SubscribeChanges(ctx context.Context, restaurantID string) (*Subscription, error) {
	pubsub := n.Client.Subscribe(ctx, ChangeChannel(restaurantID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChangeChannel(restaurantID), err)
	}

	sub := &Subscription{
		pubsub:  pubsub,
		changes: make(chan models.TicketChange, 16),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.changes)
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var change models.TicketChange
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				select {
				case sub.changes <- change:
				case <-sub.done:
					return
				}
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}
