package orchestrator

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultHistoryLimit bounds each agent's history.
const DefaultHistoryLimit = 1000

// Entry kinds.
const (
	EntryMessage = "message"
	EntryReply   = "reply"
	EntryHandoff = "handoff"
)

// Entry is one record in an agent's conversation history.
type Entry struct {
	Seq            uint64    `json:"seq"`
	Kind           string    `json:"kind"`
	Time           time.Time `json:"time"`
	RequestID      string    `json:"request_id"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	FromAgentID    string    `json:"from_agent_id,omitempty"`
	Content        string    `json:"content"`
}

// History is a per-agent, append-only log ordered by intake sequence.
// Entries appended out of sequence order are placed by Seq, so completion
// order never reorders history.
type History struct {
	seq   atomic.Uint64
	limit int

	mu      sync.Mutex
	byAgent map[string][]Entry
}

// NewHistory creates a history keeping at most limit entries per agent.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, byAgent: make(map[string][]Entry)}
}

// NextSeq returns the next intake sequence number.
func (h *History) NextSeq() uint64 {
	return h.seq.Add(1)
}

// Append inserts e after every entry with Seq <= e.Seq and drops the oldest
// entries past the limit.
func (h *History) Append(agentID string, e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.byAgent[agentID]
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Seq > e.Seq })
	entries = append(entries, Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e

	if over := len(entries) - h.limit; over > 0 {
		entries = append(entries[:0:0], entries[over:]...)
	}
	h.byAgent[agentID] = entries
}

// Get returns a copy of the agent's history.
func (h *History) Get(agentID string) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	src := h.byAgent[agentID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out
}
