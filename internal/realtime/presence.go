package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Member is one participant's presence record. It exists for the lifetime of
// a connection and is removed on leave or heartbeat expiry.
type Member struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

type presenceAction string

const (
	presenceJoin      presenceAction = "join"
	presenceHeartbeat presenceAction = "heartbeat"
	presenceLeave     presenceAction = "leave"
)

// presenceMessage is the wire format on the presence subject. There is no
// central arbiter: membership converges because every peer re-announces
// itself when it sees a join from a key it did not know about.
type presenceMessage struct {
	Action    presenceAction `json:"action"`
	Member    Member         `json:"member"`
	Timestamp int64          `json:"timestamp"`
}

func decodePresence(data []byte) (presenceMessage, error) {
	var msg presenceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return presenceMessage{}, fmt.Errorf("%w: presence: %v", ErrMalformedEvent, err)
	}
	if msg.Action == "" || msg.Member.ID == uuid.Nil {
		return presenceMessage{}, fmt.Errorf("%w: presence: missing action or member id", ErrMalformedEvent)
	}
	return msg, nil
}

type memberEntry struct {
	member   Member
	lastSeen time.Time
}

// memberTable is the local view of channel membership. Each peer maintains
// its own copy from join/heartbeat/leave traffic; entries silent past the
// TTL are swept and reported as leaves.
type memberTable struct {
	mu      sync.Mutex
	entries map[uuid.UUID]memberEntry
}

func newMemberTable() *memberTable {
	return &memberTable{entries: make(map[uuid.UUID]memberEntry)}
}

// observe records a member sighting and reports whether the key is new.
func (t *memberTable) observe(m Member, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, known := t.entries[m.ID]
	t.entries[m.ID] = memberEntry{member: m, lastSeen: now}
	return !known
}

// remove drops a member and reports whether it was present.
func (t *memberTable) remove(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, known := t.entries[id]
	delete(t.entries, id)
	return known
}

// sweep removes members silent for longer than ttl and returns them.
func (t *memberTable) sweep(now time.Time, ttl time.Duration) []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []Member
	for id, e := range t.entries {
		if now.Sub(e.lastSeen) > ttl {
			expired = append(expired, e.member)
			delete(t.entries, id)
		}
	}
	return expired
}

// snapshot returns current membership ordered by join time, then by id for
// stability. The first slot designates the host peer.
func (t *memberTable) snapshot() []Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	members := make([]Member, 0, len(t.entries))
	for _, e := range t.entries {
		members = append(members, e.member)
	}
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].ID.String() < members[j].ID.String()
	})
	return members
}

func (t *memberTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
