package ghostrace

import (
	"net/http"
	"time"

	"github.com/gobwas/ws"
)

type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// CodeFromRequester pulls the room code out of a request, usually from a path parameter.
type CodeFromRequester func(r *http.Request) string

// HandleSocket upgrades the request and attaches the connection to the room named by codeFrom.
// onError is only called before the upgrade; afterwards failures are reported as a close frame.
func (reg *Registry) HandleSocket(codeFrom CodeFromRequester, onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := NormalizeRoomCode(codeFrom(r))
		if err != nil {
			onError(w, r, err)
			return
		}

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			onError(w, r, err)
			return
		}

		session, err := reg.Connect(code, conn)
		if err != nil {
			reg.Slogger.Warn("rejecting socket", "room", code, "err", err)
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusInternalServerError, err.Error())))
			_ = conn.Close()
			return
		}
		reg.Slogger.Info("new socket connection", "room", code, "connection", session.ReferenceID())
	}
}
