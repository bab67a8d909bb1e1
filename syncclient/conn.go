package syncclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const writeTimeout = 5 * time.Second

// Conn is a client websocket to one room. Send is safe for concurrent use.
type Conn struct {
	conn net.Conn
	// frames the server sent along with the handshake are buffered here
	src io.Reader

	mu sync.Mutex
}

// RoomURL turns an http(s) or ws(s) base URL into the socket URL for code.
func RoomURL(baseURL, code string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rooms/" + url.PathEscape(code) + "/ws"
	return u.String(), nil
}

func Dial(ctx context.Context, baseURL, code string) (*Conn, error) {
	u, err := RoomURL(baseURL, code)
	if err != nil {
		return nil, err
	}
	conn, br, _, err := ws.Dial(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", u, err)
	}
	c := &Conn{conn: conn, src: conn}
	if br != nil {
		c.src = br
	}
	return c, nil
}

func (c *Conn) Send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wsutil.WriteClientText(c.conn, message)
}

// Write lets control frame replies share the send lock. Each call carries one whole frame.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(p)
}

// Listen calls fn for every text frame until the connection closes or ctx is done.
// A normal close from the server returns nil.
func (c *Conn) Listen(ctx context.Context, fn func(message []byte)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	control := wsutil.ControlFrameHandler(c, ws.StateClientSide)
	rd := &wsutil.Reader{
		Source:         c.src,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return c.readErr(ctx, err)
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return c.readErr(ctx, err)
			}
			continue
		}
		if hdr.OpCode&ws.OpText == 0 {
			if err := rd.Discard(); err != nil {
				return c.readErr(ctx, err)
			}
			continue
		}
		data, err := io.ReadAll(rd)
		if err != nil {
			return c.readErr(ctx, err)
		}
		fn(data)
	}
}

func (c *Conn) readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return nil
	}
	return err
}

// Close sends a close frame and drops the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteFrame(c.conn, ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))))
	c.mu.Unlock()
	return c.conn.Close()
}
