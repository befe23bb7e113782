package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/star371/netsession/pkg/command"
	"go.uber.org/zap"
)

type Status int32

const (
	StatusUnopened Status = iota
	StatusOpened
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusUnopened:
		return "UNOPENED"
	case StatusOpened:
		return "OPENED"
	case StatusClosing:
		return "CLOSING"
	case StatusClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

const (
	// CloseCodeFloor is the lowest close code a socket accepts.
	CloseCodeFloor = 1000

	// CloseCodeAppBase is where codes below CloseCodeFloor are moved to.
	CloseCodeAppBase = 3000

	CloseCodeUnknownError = 4999
)

// ShiftCloseCode maps an application close code onto the range a socket
// accepts. Codes from 1000 up pass through, codes 0..999 move to 3000+code and
// negative codes become CloseCodeUnknownError.
func ShiftCloseCode(code int) int {
	switch {
	case code >= CloseCodeFloor:
		return code
	case code >= 0:
		return CloseCodeAppBase + code
	}
	return CloseCodeUnknownError
}

// Callback receives transport events. Every method is called from Pump, on
// the goroutine that owns the transport.
type Callback interface {
	OnConnectionOpen()
	OnConnectionError(err error)
	OnConnectionClose(code int)

	// OnMessage delivers one inbound payload. req is the request being answered
	// when the transport can tell, nil otherwise.
	OnMessage(data []byte, req command.Command)
	OnMessageFail(data []byte, req command.Command)
	OnCommandTimeout(header *HeaderMap, req command.Command)
	OnCommandError(header *HeaderMap, req command.Command, err error)

	CustomRequestHeaderMap(cmd command.Command) *HeaderMap
	TimeoutTime() time.Duration
}

type Transport interface {
	URL() string
	Status() Status
	// CloseCode is the last close code seen, kept after the connection is gone.
	CloseCode() int
	// SocketError is the last connection error seen.
	SocketError() error
	IsWebSocket() bool

	Connect() bool
	Close(code int) bool
	SendCommand(cmd command.Command) bool

	// Pump delivers queued events to the Callback and returns how many it
	// delivered. It never blocks.
	Pump() int
	// Dispose stops background work. No event is delivered afterwards.
	Dispose()
}

type Params struct {
	Logger *zap.Logger

	Dialer        *websocket.Dialer
	RequestHeader http.Header

	HttpClient *resty.Client

	EventBufferLength  int
	CloseGracePeriod   time.Duration
	MaxReadMessageSize int64
}

func (p Params) withDefaults() Params {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Dialer == nil {
		p.Dialer = websocket.DefaultDialer
	}
	if p.HttpClient == nil {
		p.HttpClient = resty.New()
	}
	if p.EventBufferLength == 0 {
		p.EventBufferLength = 64
	}
	if p.CloseGracePeriod == 0 {
		p.CloseGracePeriod = 3 * time.Second
	}
	return p
}

// New picks the transport for url: a socket for ws:// and wss://, http
// otherwise.
func New(url string, cb Callback, params Params) Transport {
	if IsSocketUrl(url) {
		return NewSocket(url, cb, params)
	}
	return NewHttp(url, cb, params)
}
