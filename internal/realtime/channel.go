package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// ErrChannelClosed means a publish was attempted after Leave.
var ErrChannelClosed = errors.New("duel channel closed")

// ChannelConfig tunes the per-duel channel.
type ChannelConfig struct {
	HeartbeatInterval time.Duration
	PresenceTTL       time.Duration
}

// DefaultChannelConfig returns the default presence timing.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		HeartbeatInterval: 15 * time.Second,
		PresenceTTL:       45 * time.Second,
	}
}

// Handlers are the channel's callbacks. All of them fire from the channel's
// dispatch goroutines; controllers forward into their own fold loop rather
// than mutating state here.
type Handlers struct {
	OnEvent func(DuelEvent)
	OnJoin  func(Member)
	OnLeave func(Member)
	OnSync  func([]Member)

	// OnDisconnect fires when the underlying connection drops. The local
	// state it should produce is "disconnected", never a hang.
	OnDisconnect func(error)
	OnReconnect  func()
}

// Channel is one peer's handle on a per-duel pub/sub topic: a broadcast
// subject fanned out to every subscriber including the sender, and a
// presence subject carrying join/heartbeat/leave announcements. The channel
// itself guarantees no cross-publisher ordering; whatever order the
// transport delivers is the order folded.
type Channel struct {
	duelID uuid.UUID
	self   Member
	nc     *nats.Conn
	config ChannelConfig
	clock  clockwork.Clock

	handlers Handlers
	table    *memberTable

	eventsSub   *nats.Subscription
	presenceSub *nats.Subscription

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func eventsSubject(duelID uuid.UUID) string   { return fmt.Sprintf("duel.%s.events", duelID) }
func presenceSubject(duelID uuid.UUID) string { return fmt.Sprintf("duel.%s.presence", duelID) }

// Connect dials NATS with the reconnect behavior every channel shares. A
// dropped connection surfaces through the handler as a local disconnected
// state; it never blocks a caller indefinitely.
func Connect(url string, handlers Handlers) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("duel channel disconnected")
			if handlers.OnDisconnect != nil {
				handlers.OnDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("duel channel reconnected")
			if handlers.OnReconnect != nil {
				handlers.OnReconnect()
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("duel channel error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Join subscribes to a duel's broadcast and presence subjects, announces the
// local member, and starts the heartbeat and sweep loops.
func Join(nc *nats.Conn, duelID uuid.UUID, self Member, handlers Handlers, config ChannelConfig, clock clockwork.Clock) (*Channel, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Channel{
		duelID:   duelID,
		self:     self,
		nc:       nc,
		config:   config,
		clock:    clock,
		handlers: handlers,
		table:    newMemberTable(),
		done:     make(chan struct{}),
	}

	var err error
	c.eventsSub, err = nc.Subscribe(eventsSubject(duelID), c.handleEventMsg)
	if err != nil {
		return nil, fmt.Errorf("subscribe events: %w", err)
	}
	c.presenceSub, err = nc.Subscribe(presenceSubject(duelID), c.handlePresenceMsg)
	if err != nil {
		_ = c.eventsSub.Unsubscribe()
		return nil, fmt.Errorf("subscribe presence: %w", err)
	}

	// The local member is part of its own membership view.
	c.table.observe(self, clock.Now())
	if err := c.announce(presenceJoin); err != nil {
		_ = c.eventsSub.Unsubscribe()
		_ = c.presenceSub.Unsubscribe()
		return nil, err
	}
	c.notifySync()

	c.wg.Add(1)
	go c.heartbeatLoop()

	log.Info().
		Str("duel_id", duelID.String()).
		Str("player_id", self.ID.String()).
		Msg("joined duel channel")

	return c, nil
}

// Publish fans an event out to every subscriber, the sender included.
// Fire-and-forget: no acknowledgement, no delivery guarantee.
func (c *Channel) Publish(evt DuelEvent) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.nc.Publish(eventsSubject(c.duelID), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Members returns the current membership snapshot, host slot first.
func (c *Channel) Members() []Member {
	return c.table.snapshot()
}

// MemberCount returns the number of distinct presence keys observed.
func (c *Channel) MemberCount() int {
	return c.table.size()
}

// Leave announces departure, stops the loops, and drops the subscriptions.
// Idempotent.
func (c *Channel) Leave() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if err := c.announce(presenceLeave); err != nil {
			log.Debug().Err(err).Msg("leave announce failed")
		}
		close(c.done)
		c.wg.Wait()
		if err := c.eventsSub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("events unsubscribe failed")
		}
		if err := c.presenceSub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("presence unsubscribe failed")
		}
		log.Info().
			Str("duel_id", c.duelID.String()).
			Str("player_id", c.self.ID.String()).
			Msg("left duel channel")
	})
}

func (c *Channel) handleEventMsg(msg *nats.Msg) {
	evt, err := DecodeEvent(msg.Data)
	if err != nil {
		log.Debug().Err(err).Str("duel_id", c.duelID.String()).Msg("dropping malformed event")
		return
	}
	if c.handlers.OnEvent != nil {
		c.handlers.OnEvent(evt)
	}
}

func (c *Channel) handlePresenceMsg(msg *nats.Msg) {
	pm, err := decodePresence(msg.Data)
	if err != nil {
		log.Debug().Err(err).Str("duel_id", c.duelID.String()).Msg("dropping malformed presence message")
		return
	}

	now := c.clock.Now()
	switch pm.Action {
	case presenceJoin, presenceHeartbeat:
		isNew := c.table.observe(pm.Member, now)
		if !isNew {
			return
		}
		// A key we had not seen. Re-announce so the newcomer learns about
		// us too; that is what makes membership converge without a server.
		if pm.Member.ID != c.self.ID && pm.Action == presenceJoin {
			if err := c.announce(presenceJoin); err != nil {
				log.Debug().Err(err).Msg("re-announce failed")
			}
		}
		if pm.Member.ID != c.self.ID && c.handlers.OnJoin != nil {
			c.handlers.OnJoin(pm.Member)
		}
		c.notifySync()

	case presenceLeave:
		if pm.Member.ID == c.self.ID {
			return
		}
		if c.table.remove(pm.Member.ID) {
			if c.handlers.OnLeave != nil {
				c.handlers.OnLeave(pm.Member)
			}
			c.notifySync()
		}
	}
}

func (c *Channel) heartbeatLoop() {
	defer c.wg.Done()
	ticker := c.clock.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.Chan():
			if err := c.announce(presenceHeartbeat); err != nil {
				log.Debug().Err(err).Msg("heartbeat failed")
			}
			expired := c.table.sweep(c.clock.Now(), c.config.PresenceTTL)
			for _, m := range expired {
				log.Info().
					Str("duel_id", c.duelID.String()).
					Str("player_id", m.ID.String()).
					Msg("presence expired")
				if c.handlers.OnLeave != nil {
					c.handlers.OnLeave(m)
				}
			}
			if len(expired) > 0 {
				c.notifySync()
			}
		}
	}
}

func (c *Channel) announce(action presenceAction) error {
	data, err := json.Marshal(presenceMessage{
		Action:    action,
		Member:    c.self,
		Timestamp: c.clock.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := c.nc.Publish(presenceSubject(c.duelID), data); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return nil
}

func (c *Channel) notifySync() {
	if c.handlers.OnSync != nil {
		c.handlers.OnSync(c.table.snapshot())
	}
}
