package state

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-node/internal/channel"
	"github.com/kjstillabower/weather-node/internal/observability"
)

// NodeState is the host-side view of one node.
type NodeState struct {
	Address   string          `json:"address"`
	Available bool            `json:"available"`
	Channels  []channel.Value `json:"channels,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Notice is a user-visible diagnostic keyed by name.
type Notice struct {
	Key      string    `json:"key"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raisedAt"`
}

// Store is the in-process device state surface. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	nodes   map[string]*NodeState
	notices map[string]Notice
	profile int
	now     func() time.Time
	logger  *zap.Logger
}

// New creates an empty Store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		nodes:   make(map[string]*NodeState),
		notices: make(map[string]Notice),
		now:     time.Now,
		logger:  logger,
	}
}

func (s *Store) node(address string) *NodeState {
	n, ok := s.nodes[address]
	if !ok {
		n = &NodeState{Address: address}
		s.nodes[address] = n
	}
	return n
}

// SetAvailable records the availability of address.
func (s *Store) SetAvailable(address string, available bool) {
	s.mu.Lock()
	n := s.node(address)
	changed := n.Available != available || n.UpdatedAt.IsZero()
	n.Available = available
	n.UpdatedAt = s.now()
	s.mu.Unlock()

	v := 0.0
	if available {
		v = 1
	}
	observability.NodeAvailable.WithLabelValues(address).Set(v)
	if changed {
		s.logger.Info("node availability", zap.String("address", address), zap.Bool("available", available))
	}
}

// SetChannels replaces the channel values of address.
func (s *Store) SetChannels(address string, set channel.Set) {
	values := make([]channel.Value, len(set))
	copy(values, set[:])

	s.mu.Lock()
	n := s.node(address)
	n.Channels = values
	n.UpdatedAt = s.now()
	s.mu.Unlock()

	for _, v := range values {
		if v.Kind == channel.KindText {
			continue
		}
		observability.ChannelValue.WithLabelValues(address, v.ID).Set(v.Number)
	}
	s.logger.Debug("channels updated", zap.String("address", address), zap.Stringers("values", values))
}

// Node returns a copy of the state of address.
func (s *Store) Node(address string) (NodeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[address]
	if !ok {
		return NodeState{}, false
	}
	return copyNode(n), true
}

// Nodes returns copies of every node sorted by address.
func (s *Store) Nodes() []NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeState, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func copyNode(n *NodeState) NodeState {
	c := *n
	c.Channels = append([]channel.Value(nil), n.Channels...)
	return c
}

// AddNotice raises or replaces the notice key.
func (s *Store) AddNotice(key, message string) {
	s.mu.Lock()
	s.notices[key] = Notice{Key: key, Message: message, RaisedAt: s.now()}
	s.mu.Unlock()
	s.logger.Warn("notice raised", zap.String("key", key), zap.String("message", message))
}

// RemoveNotice clears the notice key if present.
func (s *Store) RemoveNotice(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notices, key)
}

// RemoveAllNotices clears every notice.
func (s *Store) RemoveAllNotices() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = make(map[string]Notice)
}

// Notices returns the current notices sorted by key.
func (s *Store) Notices() []Notice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Notice, 0, len(s.notices))
	for _, n := range s.notices {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// UpdateProfile records a device profile reinstall request.
func (s *Store) UpdateProfile() error {
	s.mu.Lock()
	s.profile++
	version := s.profile
	s.mu.Unlock()
	s.logger.Info("device profile update requested", zap.Int("version", version))
	return nil
}

// ProfileVersion returns how many profile updates have been requested.
func (s *Store) ProfileVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}
