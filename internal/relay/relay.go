// ABOUTME: Redis pub/sub relay carrying delivery events between server nodes
// ABOUTME: Publishes after durable commit; subscribers re-broadcast to their local sessions

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deskline/livechat/internal/config"
	"github.com/deskline/livechat/internal/delivery"
)

// channelPrefix namespaces event channels. One channel per conversation so
// subscribers can scope to the conversations their sessions watch.
const channelPrefix = "livechat:events:"

// Relay publishes delivery events to Redis and re-broadcasts events received
// from other nodes into the local registry.
type Relay struct {
	client   *redis.Client
	registry *delivery.Registry
	nodeID   string
	logger   *slog.Logger
}

// envelope wraps an event with its origin node so subscribers can skip
// their own publishes.
type envelope struct {
	Node  string          `json:"node"`
	Event *delivery.Event `json:"event"`
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg config.RelayConfig, registry *delivery.Registry, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to relay: %w", err)
	}

	nodeID := uuid.NewString()
	return &Relay{
		client:   client,
		registry: registry,
		nodeID:   nodeID,
		logger:   logger.With("component", "relay", "node_id", nodeID),
	}, nil
}

// Channel returns the pub/sub channel name for a conversation.
func Channel(conversationID int64) string {
	return fmt.Sprintf("%s%d", channelPrefix, conversationID)
}

// Publish sends one event to the conversation's channel.
func (r *Relay) Publish(ctx context.Context, ev *delivery.Event) error {
	payload, err := json.Marshal(envelope{Node: r.nodeID, Event: ev})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := r.client.Publish(ctx, Channel(ev.ConversationID), payload).Err(); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}
	return nil
}

// Listen subscribes to every conversation channel and re-broadcasts incoming
// events to local sessions. Blocks until ctx is cancelled.
func (r *Relay) Listen(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	r.logger.Info("relay listening", "pattern", channelPrefix+"*")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay subscription closed")
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Event == nil {
				r.logger.Warn("dropping malformed relay event",
					"channel", msg.Channel,
					"error", err)
				continue
			}
			if env.Node == r.nodeID {
				continue
			}
			r.registry.Broadcast(env.Event, "")
		}
	}
}

// Close releases the Redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}

var _ delivery.EventSink = (*Relay)(nil)
