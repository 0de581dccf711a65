package duplex

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// errEmptyType is returned by decodeInbound when a frame parses as JSON but
// carries no string "type" field.
var errEmptyType = errors.New("duplex: frame has no type")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is the transport surface SessionHandler depends on. *websocket.Conn
// satisfies it; tests supply a fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)
