// Package session owns the client side of a collaborative room: the
// document replica, the relay connection and the offline store, plus the
// registry that guarantees at most one live triple per room per process.
package session

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/scriptroom/scriptroom/internal/core/codec"
	"github.com/scriptroom/scriptroom/internal/core/document"
	"github.com/scriptroom/scriptroom/internal/core/events"
	"github.com/scriptroom/scriptroom/internal/core/observability/log"
	"github.com/scriptroom/scriptroom/internal/store"
)

// Session is the live (document, connection, store) triple for one room.
// Create via Registry.GetOrCreate; tear down via Registry.Release.
type Session struct {
	room string

	doc  *document.Document
	conn *Conn
	st   *store.Store

	logger log.Log
	bus    *events.Bus

	compactThreshold    int
	appendsSinceCompact int64 // atomic

	stop     chan struct{}
	released int32 // atomic
}

func openSession(config Config, room string, logger log.Log, bus *events.Bus) (*Session, error) {
	storePath := filepath.Join(config.DataDir, sanitizeRoom(room)+".db")
	st, err := store.Open(storePath, logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		room:             room,
		st:               st,
		logger:           logger.With(log.String("room", room)),
		bus:              bus,
		compactThreshold: config.CompactThreshold,
		stop:             make(chan struct{}),
	}

	doc, err := s.replay(context.Background())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	s.doc = doc

	wsURL := strings.TrimSuffix(config.RelayURL, "/") + "/rooms/" + url.PathEscape(room)
	s.conn = newConn(wsURL, config.Header, room, logger, bus)

	// Local edits: persist first, then transmit fire-and-forget.
	doc.OnUpdate(func(payload []byte) {
		s.persist(payload)
		s.conn.Enqueue(payload)
	})

	s.conn.start(s.handleRemote, s.handleOpen)
	go s.announceLoop(config.AnnounceInterval)
	return s, nil
}

// announceLoop rebroadcasts the full snapshot while connected. The relay
// keeps no state, so this is how a peer that joined after our last edit
// catches up; merges are idempotent, so a known snapshot is a no-op for
// everyone else.
func (s *Session) announceLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if s.conn.State() == ConnOpen {
				s.conn.Enqueue(s.doc.Snapshot())
			}
		case <-s.stop:
			return
		}
	}
}

// replay rebuilds the replica from the durable update log so the best
// known state is available before any network traffic.
func (s *Session) replay(ctx context.Context) (*document.Document, error) {
	s.bus.Publish(events.NewEvent(EventStoreState, s.room, StoreLoading))

	doc := document.New(s.room)
	payloads, err := s.st.LoadAll(ctx, s.room)
	if err != nil {
		return nil, err
	}
	for _, payload := range payloads {
		u, err := codec.Decode(payload)
		if err != nil {
			// A corrupt row cannot be merged; everything after it still
			// can, so skip rather than abort.
			s.logger.Warn("skipping corrupt stored update", log.Error(err))
			continue
		}
		if err := doc.ApplyUpdate(u.Bytes()); err != nil {
			s.logger.Warn("skipping unmergeable stored update", log.Error(err))
		}
	}

	s.bus.Publish(events.NewEvent(EventStoreState, s.room, StoreSynced))
	s.logger.Info("replayed offline store", log.Int("updates", len(payloads)))
	return doc, nil
}

// handleRemote runs for every frame the relay delivers.
func (s *Session) handleRemote(data []byte) {
	u, err := codec.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed payload", log.Error(err), log.Int("bytes", len(data)))
		s.bus.Publish(events.NewEvent(EventDecodeDropped, s.room, err))
		return
	}
	// Merge before persisting: persist may compact the log down to a
	// snapshot, and that snapshot must already cover this update.
	if err := s.doc.ApplyUpdate(u.Bytes()); err != nil {
		s.logger.Error("failed to merge remote update", log.Error(err))
	}
	// Remote updates are persisted too; otherwise a restart without a
	// reconnect would lose peer contributions.
	s.persist(u.Bytes())
}

// handleOpen runs after every successful handshake. Sending the full
// snapshot reconciles both sides after any outage, including a relay
// restart that lost queued frames.
func (s *Session) handleOpen() {
	s.conn.Enqueue(s.doc.Snapshot())
}

func (s *Session) persist(payload []byte) {
	if err := s.st.AppendUpdate(context.Background(), s.room, payload); err != nil {
		s.logger.Error("durability degraded", log.Error(err))
		s.bus.Publish(events.NewEvent(EventStoreDegraded, s.room, err))
		return
	}
	if s.compactThreshold > 0 &&
		atomic.AddInt64(&s.appendsSinceCompact, 1) >= int64(s.compactThreshold) {
		atomic.StoreInt64(&s.appendsSinceCompact, 0)
		if err := s.st.Compact(context.Background(), s.room, s.doc.Snapshot()); err != nil {
			s.logger.Warn("compaction failed", log.Error(err))
		}
	}
}

// Room returns the room identifier.
func (s *Session) Room() string {
	return s.room
}

// Document returns the shared document replica.
func (s *Session) Document() *document.Document {
	return s.doc
}

// ConnState returns the transport state machine's current state.
func (s *Session) ConnState() ConnState {
	return s.conn.State()
}

// Store returns the offline store handle.
func (s *Session) Store() *store.Store {
	return s.st
}

// release closes the connection and the store handle. Durable rows are
// kept; a later GetOrCreate for the same room re-opens them.
func (s *Session) release() {
	if !atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		return
	}
	close(s.stop)
	s.doc.Close()
	s.conn.Close()
	if err := s.st.Compact(context.Background(), s.room, s.doc.Snapshot()); err != nil {
		s.logger.Warn("final compaction failed", log.Error(err))
	}
	if err := s.st.Close(); err != nil {
		s.logger.Warn("failed to close store", log.Error(err))
	}
	s.logger.Info("session released")
}

func sanitizeRoom(room string) string {
	var b strings.Builder
	for _, r := range room {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
