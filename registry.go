package ghostrace

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrRoomClosed = errors.New("room registry is closed")
	// ErrRoomBusy is returned when a room's inbox cannot take a new connection.
	ErrRoomBusy = errors.New("room is busy")
)

const maxCodeAttempts = 32

// Registry owns every live room, keyed by room code.
type Registry struct {
	ctx  context.Context
	opts Options

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool

	Slogger *slog.Logger
}

type RoomSummary struct {
	Code    string `json:"code"`
	Phase   string `json:"phase"`
	Players int    `json:"players"`
}

// NewRegistry returns a registry whose rooms are created with opts. Rooms stop when ctx ends.
func NewRegistry(ctx context.Context, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		ctx:     ctx,
		opts:    opts,
		rooms:   make(map[string]*Room),
		Slogger: opts.Slogger,
	}
}

// Connect attaches conn to the room with the given code, creating the room if needed.
func (reg *Registry) Connect(code string, conn net.Conn) (*SocketSession, error) {
	sl := reg.Slogger.With("func", "registry.Connect")
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed || reg.ctx.Err() != nil {
		return nil, ErrRoomClosed
	}

	room, ok := reg.rooms[code]
	if ok {
		// stopped from outside without releasing itself
		select {
		case <-room.ctx.Done():
			ok = false
		default:
		}
	}
	if !ok {
		room = NewRoom(reg.ctx, code, reg.opts)
		room.release = reg.release
		reg.rooms[code] = room
		go room.Start()
		sl.Info("room created", "room", code)
	}

	session := NewSocketSession(conn, uuid.NewString(), room.messages, room.ctx.Done())
	session.Slogger = room.Slogger.With("connection", session.ReferenceID())
	if !room.offer(SocketMessage{ReferenceID: session.ReferenceID(), Type: Connect, Session: session}) {
		return nil, ErrRoomBusy
	}
	session.Start()
	sl.Debug("connection accepted", "room", code, "connection", session.ReferenceID())
	return session, nil
}

// release runs on the room goroutine. Holding mu while checking the inbox means no Connect can
// slip in between the check and the removal.
func (reg *Registry) release(room *Room, force bool) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if !force && len(room.messages) > 0 {
		return false
	}
	if current, ok := reg.rooms[room.Code]; ok && current == room {
		delete(reg.rooms, room.Code)
		reg.Slogger.Info("room released", "room", room.Code)
	}
	return true
}

func (reg *Registry) Room(code string) (*Room, bool) {
	code, err := NormalizeRoomCode(code)
	if err != nil {
		return nil, false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	room, ok := reg.rooms[code]
	return room, ok
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Rooms lists live rooms ordered by code.
func (reg *Registry) Rooms() []RoomSummary {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.Unlock()

	summaries := make([]RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, RoomSummary{
			Code:    room.Code,
			Phase:   room.Phase().String(),
			Players: room.NumPlayers(),
		})
	}
	slices.SortFunc(summaries, func(a, b RoomSummary) int {
		return strings.Compare(a.Code, b.Code)
	})
	return summaries
}

// AllocateCode returns a code that no live room is using. The room itself is only created by the
// first connection.
func (reg *Registry) AllocateCode() (string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for range maxCodeAttempts {
		code, err := NewRoomCode()
		if err != nil {
			return "", err
		}
		if _, taken := reg.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("no free room code")
}

// Close stops every room and refuses new connections. It waits for each room loop to exit.
func (reg *Registry) Close() {
	reg.mu.Lock()
	reg.closed = true
	rooms := make([]*Room, 0, len(reg.rooms))
	for code, room := range reg.rooms {
		rooms = append(rooms, room)
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()

	for _, room := range rooms {
		room.Stop()
		<-room.Done()
	}
}
