package ghostrace

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type SocketMessageType int

const (
	Disconnect SocketMessageType = iota - 1
	Connect
	Message
)

func (t SocketMessageType) String() string {
	switch t {
	case Disconnect:
		return "disconnect"
	case Connect:
		return "connect"
	case Message:
		return "message"
	default:
		return "unknown"
	}
}

type SocketMessage struct {
	ReferenceID string
	Type        SocketMessageType
	Message     []byte
	// Session is set on Connect only.
	Session SocketSessioner
}

const (
	sendBufferSize = 64
	pingInterval   = 10 * time.Second
	writeTimeout   = 5 * time.Second
)

type SocketSession struct {
	// The key bit - the web-socket connection
	conn net.Conn
	// The reference bit
	referenceID string

	// The message bit
	send     chan []byte
	messages chan<- SocketMessage
	roomDone <-chan struct{}

	// The concurrency bit
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	Slogger *slog.Logger
}

// NewSocketSession binds conn to a room inbox. Loops do not run until Start, so the caller can
// queue the Connect message first.
func NewSocketSession(conn net.Conn, referenceID string, messages chan<- SocketMessage, roomDone <-chan struct{}) *SocketSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &SocketSession{
		conn:        conn,
		referenceID: referenceID,
		send:        make(chan []byte, sendBufferSize),
		messages:    messages,
		roomDone:    roomDone,
		ctx:         ctx,
		cancel:      cancel,
		Slogger:     slog.Default().With("connection", referenceID),
	}
}

func (s *SocketSession) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.ReadLoop()
	}()
	go func() {
		defer s.wg.Done()
		s.WriteLoop()
	}()
}

func (s *SocketSession) ReferenceID() string {
	return s.referenceID
}

// Close never blocks: the write loop sends a close frame and then drops the connection.
// wait blocks until both loops have exited.
func (s *SocketSession) Close() {
	s.cancel()
	if !s.started.Load() {
		_ = s.conn.Close()
	}
}

func (s *SocketSession) wait() {
	s.wg.Wait()
}

// Send queues message for the write loop. A session whose buffer is full is closed rather than
// allowed to hold up the room.
func (s *SocketSession) Send(message []byte) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.send <- message:
	default:
		s.Slogger.Warn("send buffer full, closing connection")
		s.Close()
	}
}

func (s *SocketSession) ReadLoop() {
	sl := s.Slogger.With("func", "socket.ReadLoop")
	sl.Debug("starting")
	defer func() {
		s.Close()
		sl.Debug("ReadLoop exited")
	}()
	for {
		msg, _, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			var er wsutil.ClosedError
			if errors.As(err, &er) {
				sl.Debug("ReadLoop closing", "reason", er.Reason)
			} else if s.ctx.Err() == nil {
				sl.Debug("ReadLoop error", "err", err)
			}
			// send the disconnect message for ANY error that terminates the loop.
			s.forward(s.unregisterMessage())
			return
		}

		s.forward(SocketMessage{
			ReferenceID: s.referenceID,
			Type:        Message,
			Message:     msg,
		})
	}
}

func (s *SocketSession) WriteLoop() {
	sl := s.Slogger.With("func", "socket.WriteLoop")
	sl.Debug("starting")
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.cancel()
		_ = s.conn.Close()
		sl.Debug("WriteLoop exited")
	}()
	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wsutil.WriteServerText(s.conn, msg); err != nil {
				sl.Debug("write failed", "err", err)
				return
			}
		case <-ticker.C:
			sl.Log(context.Background(), slog.Level(-8), "ping")
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wsutil.WriteServerMessage(s.conn, ws.OpPing, nil); err != nil {
				return
			}
		case <-s.ctx.Done():
			// best effort close frame; the peer may already be gone
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = ws.WriteFrame(s.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
			return
		}
	}
}

// forward delivers to the room unless the room has already gone away.
func (s *SocketSession) forward(m SocketMessage) {
	select {
	case s.messages <- m:
	case <-s.roomDone:
	}
}

func (s *SocketSession) unregisterMessage() SocketMessage {
	return SocketMessage{
		ReferenceID: s.referenceID,
		Type:        Disconnect,
		Message:     nil,
	}
}
