package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/scriptroom/scriptroom/internal/core/events"
	"github.com/scriptroom/scriptroom/internal/core/observability/log"
)

// Registry errors
var (
	ErrInvalidRoomID  = errors.New("invalid room identifier")
	ErrSessionNotOpen = errors.New("no open session for room")
	ErrRegistryClosed = errors.New("registry is closed")
)

// Config holds client-side session configuration.
type Config struct {
	// RelayURL is the relay base URL, e.g. "ws://127.0.0.1:8080".
	RelayURL string
	// DataDir is where per-room offline stores live.
	DataDir string
	// Header is attached to every handshake, typically the auth cookie
	// the relay's authorize hook inspects.
	Header http.Header
	// CompactThreshold is the number of appended updates after which the
	// store is compacted into one snapshot. Zero disables size-bound
	// compaction; release still compacts once.
	CompactThreshold int
	// AnnounceInterval is how often a connected session rebroadcasts its
	// full snapshot so peers that joined mid-stream catch up.
	AnnounceInterval time.Duration
}

// Defaults for configs that leave fields unset.
const (
	DefaultCompactThreshold = 500
	DefaultAnnounceInterval = 15 * time.Second
)

func (c Config) withDefaults() Config {
	if c.CompactThreshold == 0 {
		c.CompactThreshold = DefaultCompactThreshold
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = DefaultAnnounceInterval
	}
	return c
}

// Registry maps room identifiers to live sessions. It is an explicitly
// owned object, not a package global, so an application shell owns one
// per process and tests own as many isolated ones as they like.
type Registry struct {
	config Config
	logger log.Log
	bus    *events.Bus

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	flight singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config, logger log.Log) *Registry {
	return &Registry{
		config:   config.withDefaults(),
		logger:   logger.With(log.String("component", "registry")),
		bus:      events.NewBus(),
		sessions: make(map[string]*Session),
	}
}

// Bus returns the status event bus shared by this registry's sessions.
func (r *Registry) Bus() *events.Bus {
	return r.bus
}

// GetOrCreate returns the live session for the room, creating it on
// first access. Concurrent calls for the same room share a single
// construction and receive the same session.
func (r *Registry) GetOrCreate(roomID string) (*Session, error) {
	if roomID == "" {
		return nil, ErrInvalidRoomID
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if s, ok := r.sessions[roomID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	v, err, _ := r.flight.Do(roomID, func() (any, error) {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		if s, ok := r.sessions[roomID]; ok {
			r.mu.Unlock()
			return s, nil
		}
		r.mu.Unlock()

		s, err := openSession(r.config, roomID, r.logger, r.bus)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open session for %q", roomID)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			s.release()
			return nil, ErrRegistryClosed
		}
		r.sessions[roomID] = s
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Get returns the live session for the room without creating one.
func (r *Registry) Get(roomID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// Release tears down the room's session: the connection is closed, any
// pending reconnect timer cancelled, the store handle released. Durable
// rows survive; a later GetOrCreate re-opens them fresh.
func (r *Registry) Release(roomID string) error {
	r.mu.Lock()
	s, ok := r.sessions[roomID]
	delete(r.sessions, roomID)
	r.mu.Unlock()

	if !ok {
		return errors.Wrap(ErrSessionNotOpen, roomID)
	}
	s.release()
	return nil
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close releases every session and refuses further use.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.release()
	}
}
