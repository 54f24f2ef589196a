// Package channel provides the subscription abstraction that delivers
// ordered event deltas (messages, typing, presence) per room. It owns the
// connection lifecycle; reconnection policy belongs to the caller.
package channel

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/skillmesh/chatsync/internal/models"
)

// ConnState is the subscription connection state. On transport-level close
// the state reverts to Disconnected and the caller must resubscribe; the
// channel never silently reconnects.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// topicBuffer bounds how many events queue per topic while the consumer is
// busy. Delivery order within a topic is preserved by the channel itself.
const topicBuffer = 64

// Subscription delivers the three independent per-room event streams. The
// delta channels close when the subscription ends, after which States yields
// a final Disconnected.
type Subscription struct {
	roomID string

	messages chan models.MessageDelta
	typing   chan models.TypingDelta
	presence chan models.PresenceDelta
	states   chan ConnState

	done      chan struct{}
	conn      Conn
	closeOnce sync.Once
}

// RoomID returns the subscribed room.
func (s *Subscription) RoomID() string { return s.roomID }

// Messages yields message deltas in delivery order.
func (s *Subscription) Messages() <-chan models.MessageDelta { return s.messages }

// Typing yields typing deltas in delivery order.
func (s *Subscription) Typing() <-chan models.TypingDelta { return s.typing }

// Presence yields presence deltas in delivery order.
func (s *Subscription) Presence() <-chan models.PresenceDelta { return s.presence }

// States yields connection state transitions.
func (s *Subscription) States() <-chan ConnState { return s.states }

// Close tears the subscription down. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Channel creates room subscriptions over a Transport.
type Channel struct {
	transport Transport
	logger    zerolog.Logger
}

// New creates a Channel.
func New(transport Transport, logger zerolog.Logger) *Channel {
	return &Channel{transport: transport, logger: logger}
}

// Subscribe connects to the room's event streams. The returned subscription
// reports Connecting immediately and Connected once the transport is up; a
// transport failure surfaces as an error and a Disconnected state.
func (c *Channel) Subscribe(ctx context.Context, roomID string) (*Subscription, error) {
	sub := &Subscription{
		roomID:   roomID,
		messages: make(chan models.MessageDelta, topicBuffer),
		typing:   make(chan models.TypingDelta, topicBuffer),
		presence: make(chan models.PresenceDelta, topicBuffer),
		states:   make(chan ConnState, 4),
		done:     make(chan struct{}),
	}
	sub.states <- Connecting

	conn, err := c.transport.Connect(ctx, roomID)
	if err != nil {
		sub.states <- Disconnected
		close(sub.states)
		close(sub.messages)
		close(sub.typing)
		close(sub.presence)
		return nil, err
	}
	sub.conn = conn
	sub.states <- Connected

	go c.readLoop(sub)
	return sub, nil
}

// Unsubscribe closes a subscription. Equivalent to sub.Close.
func (c *Channel) Unsubscribe(sub *Subscription) {
	sub.Close()
}

// readLoop pumps envelopes from the transport into the per-topic channels
// until the connection closes, then reports Disconnected and closes every
// stream so consumers observe a clean end.
func (c *Channel) readLoop(sub *Subscription) {
	defer func() {
		sub.Close()
		close(sub.messages)
		close(sub.typing)
		close(sub.presence)
		sub.states <- Disconnected
		close(sub.states)
	}()

	for {
		env, err := sub.conn.ReadEnvelope()
		if err != nil {
			return
		}
		if env.RoomID != "" && env.RoomID != sub.roomID {
			continue
		}
		c.route(sub, env)
	}
}

// route decodes an envelope payload into its topic delta. Malformed payloads
// are dropped with a warning; one bad frame must not kill the stream. Every
// send races against done so a closed subscription with a full topic buffer
// cannot wedge the read loop.
func (c *Channel) route(sub *Subscription, env models.Envelope) {
	switch env.Topic {
	case models.TopicMessages:
		var msg models.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			c.logger.Warn().Err(err).Str("room", sub.roomID).Msg("bad message delta")
			return
		}
		select {
		case sub.messages <- models.MessageDelta{Type: env.Type, Message: msg}:
		case <-sub.done:
		}

	case models.TopicTyping:
		var ind models.TypingIndicator
		if err := json.Unmarshal(env.Payload, &ind); err != nil {
			c.logger.Warn().Err(err).Str("room", sub.roomID).Msg("bad typing delta")
			return
		}
		select {
		case sub.typing <- models.TypingDelta{Type: env.Type, Indicator: ind}:
		case <-sub.done:
		}

	case models.TopicPresence:
		delta := models.PresenceDelta{Type: env.Type}
		if env.Type == models.EventSnapshot {
			if err := json.Unmarshal(env.Payload, &delta.Records); err != nil {
				c.logger.Warn().Err(err).Str("room", sub.roomID).Msg("bad presence snapshot")
				return
			}
		} else {
			if err := json.Unmarshal(env.Payload, &delta.Record); err != nil {
				c.logger.Warn().Err(err).Str("room", sub.roomID).Msg("bad presence delta")
				return
			}
		}
		select {
		case sub.presence <- delta:
		case <-sub.done:
		}
	}
}
