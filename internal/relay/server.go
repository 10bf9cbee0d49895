// Package relay implements the room relay: a process that accepts
// websocket connections scoped to a room and rebroadcasts every binary
// frame to the other members of that room. The relay holds no document
// state and never inspects payload contents; clients re-sync from their
// offline stores and from each other if it restarts.
package relay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/scriptroom/scriptroom/internal/core/observability/log"
)

// AuthorizeFunc decides whether a handshake may join a room. It runs
// before the websocket upgrade; returning an error refuses the handshake
// at the transport layer. The decision itself (cookies, tokens, room
// ownership) belongs to the embedding application.
type AuthorizeFunc func(r *http.Request, roomID string) error

// Server is the relay process.
type Server struct {
	config    Config
	logger    log.Log
	authorize AuthorizeFunc

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener

	rooms   map[string]*Room
	roomsMu sync.Mutex

	running   int32 // atomic bool
	connCount int64 // atomic

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewServer creates a relay server. A nil authorize hook admits every
// handshake.
func NewServer(config Config, logger log.Log, authorize AuthorizeFunc) *Server {
	return &Server{
		config:    config,
		logger:    logger.With(log.String("component", "relay")),
		authorize: authorize,
		rooms:     make(map[string]*Room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Origin policy is the embedding application's call, made
				// inside the authorize hook.
				return true
			},
		},
	}
}

// Start binds the listener and begins serving handshakes. It returns
// once the listener is bound; the accept loop runs until Shutdown or
// until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerRunning
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms/", s.handleRoom)
	s.httpServer = &http.Server{Handler: mux}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, runCtx := errgroup.WithContext(runCtx)
	s.group = group

	group.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-runCtx.Done()
		return s.closeAll()
	})

	s.logger.Info("relay listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting handshakes and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}
	err := s.httpServer.Shutdown(ctx)
	s.cancel()
	if werr := s.group.Wait(); err == nil {
		err = werr
	}
	s.logger.Info("relay stopped")
	return err
}

func (s *Server) closeAll() error {
	s.roomsMu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.rooms = make(map[string]*Room)
	s.roomsMu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		room.dead = true
		for _, c := range room.conns {
			_ = c.Close()
		}
		room.mu.Unlock()
	}
	return nil
}

// ConnectionCount reports currently open connections across all rooms.
func (s *Server) ConnectionCount() int64 {
	return atomic.LoadInt64(&s.connCount)
}

// RoomCount reports how many rooms currently have members.
func (s *Server) RoomCount() int {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	return len(s.rooms)
}

func (s *Server) getOrCreateRoom(roomID string) *Room {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	if room, exists := s.rooms[roomID]; exists {
		return room
	}
	room := newRoom(roomID)
	s.rooms[roomID] = room
	return room
}

// pruneRoom drops the room from the registry once its last member left.
// The room is marked dead under its own lock so a joiner that fetched it
// before the prune fails its add and re-fetches instead of landing in an
// orphaned fan-out set.
func (s *Server) pruneRoom(room *Room) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	existing, exists := s.rooms[room.ID()]
	if !exists || existing != room {
		return
	}
	room.mu.Lock()
	if len(room.conns) == 0 {
		room.dead = true
		delete(s.rooms, room.ID())
	}
	room.mu.Unlock()
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	// Parse the raw path so an escaped slash inside a room id is not
	// mistaken for a path separator.
	roomID := strings.TrimPrefix(r.URL.EscapedPath(), "/rooms/")
	if roomID == "" || strings.Contains(roomID, "/") {
		http.Error(w, ErrInvalidRoom.Error(), http.StatusBadRequest)
		return
	}
	decoded, err := url.PathUnescape(roomID)
	if err != nil {
		http.Error(w, ErrInvalidRoom.Error(), http.StatusBadRequest)
		return
	}
	roomID = decoded

	if s.authorize != nil {
		if err := s.authorize(r, roomID); err != nil {
			s.logger.Warn("handshake refused",
				log.String("room", roomID),
				log.Error(err),
			)
			http.Error(w, ErrUnauthorized.Error(), http.StatusForbidden)
			return
		}
	}

	room := s.getOrCreateRoom(roomID)
	if s.config.MaxRoomConnections > 0 && room.Len() >= s.config.MaxRoomConnections {
		s.logger.Warn("handshake refused", log.String("room", roomID), log.Error(ErrRoomFull))
		http.Error(w, ErrRoomFull.Error(), http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", log.String("room", roomID), log.Error(err))
		return
	}
	if s.config.MaxMessageSize > 0 {
		ws.SetReadLimit(s.config.MaxMessageSize)
	}

	conn := newConnection(ws, roomID, s.config, s.logger)
	conn.setState(StateOpen)
	for !room.add(conn) {
		// The room was pruned between lookup and add; fetch the live one.
		room = s.getOrCreateRoom(roomID)
	}
	atomic.AddInt64(&s.connCount, 1)
	go conn.writeLoop()

	conn.logger.Info("connection open", log.Int("members", room.Len()))

	for {
		payload, err := conn.readFrame()
		if err != nil {
			break
		}
		room.broadcast(conn, payload, s.logger)
	}

	room.remove(conn)
	_ = conn.Close()
	atomic.AddInt64(&s.connCount, -1)
	s.pruneRoom(room)
	conn.logger.Info("connection closed", log.Int("members", room.Len()))
}
