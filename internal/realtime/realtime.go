// Package realtime fans conversation events out over Redis pub/sub. A socket
// gateway subscribes to the room channels and relays events to browsers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lentmiien/lentmiien-site-sub001/internal/models"
)

// Event names understood by the browser client.
const (
	EventChatMessages = "chat-messages"
	EventChatNotice   = "chat-notice"
)

func UserRoom(userID string) string { return "user:" + userID }

func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }

// Envelope is the payload written to a room channel.
type Envelope struct {
	Event  string          `json:"event"`
	Room   string          `json:"room"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sent_at"`
}

// MessagesPayload carries newly materialized messages for a conversation.
type MessagesPayload struct {
	ID            string           `json:"id"`
	Messages      []models.Message `json:"messages"`
	PlaceholderID string           `json:"placeholder_id,omitempty"`
}

// NoticePayload tells members a conversation changed.
type NoticePayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Publisher emits events to rooms.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload any) error
}

// Broadcaster publishes room events on Redis channels named <prefix>:<room>.
type Broadcaster struct {
	client *redis.Client
	prefix string
}

func NewBroadcaster(client *redis.Client, prefix string) *Broadcaster {
	return &Broadcaster{client: client, prefix: strings.TrimRight(prefix, ":")}
}

func (b *Broadcaster) Channel(room string) string {
	if b.prefix == "" {
		return room
	}
	return b.prefix + ":" + room
}

func (b *Broadcaster) Publish(ctx context.Context, room, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	env, err := json.Marshal(Envelope{Event: event, Room: room, Data: data, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("realtime: encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(room), env).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s to %s: %w", event, room, err)
	}
	return nil
}

// Subscribe opens a subscription to the given rooms.
func (b *Broadcaster) Subscribe(ctx context.Context, rooms ...string) *redis.PubSub {
	channels := make([]string, 0, len(rooms))
	for _, room := range rooms {
		channels = append(channels, b.Channel(room))
	}
	return b.client.Subscribe(ctx, channels...)
}

// DecodeEnvelope parses a pub/sub message body.
func DecodeEnvelope(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// PushMessages sends the new messages to the conversation room and a notice
// to each recipient's user room.
func PushMessages(ctx context.Context, pub Publisher, conv models.Conversation, msgs []models.Message, placeholderID string) error {
	if pub == nil {
		return nil
	}
	if err := pub.Publish(ctx, ConversationRoom(conv.ID), EventChatMessages, MessagesPayload{
		ID:            conv.ID,
		Messages:      msgs,
		PlaceholderID: placeholderID,
	}); err != nil {
		return err
	}
	notice := NoticePayload{ID: conv.ID, Title: conv.Title}
	for _, user := range conv.Recipients() {
		if err := pub.Publish(ctx, UserRoom(user), EventChatNotice, notice); err != nil {
			return err
		}
	}
	return nil
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, string, string, any) error { return nil }
