package transport

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// websocketRWC adapts a gorilla websocket connection to net.Conn so it can
// back a yamux session. Adapted from the teacher's bridge.WebSocketRWC.
type websocketRWC struct {
	conn *websocket.Conn
	r    io.Reader
}

func newWebsocketRWC(conn *websocket.Conn) *websocketRWC {
	return &websocketRWC{conn: conn}
}

func (w *websocketRWC) Read(p []byte) (int, error) {
	for {
		if w.r == nil {
			_, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			w.r = r
		}
		n, err := w.r.Read(p)
		if err == io.EOF {
			w.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *websocketRWC) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *websocketRWC) Close() error               { return w.conn.Close() }
func (w *websocketRWC) LocalAddr() net.Addr         { return w.conn.LocalAddr() }
func (w *websocketRWC) RemoteAddr() net.Addr        { return w.conn.RemoteAddr() }
func (w *websocketRWC) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}
func (w *websocketRWC) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *websocketRWC) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }
