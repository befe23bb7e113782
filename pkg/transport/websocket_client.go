package transport

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/star371/netsession/pkg/command"
	utils "github.com/star371/netsession/pkg/util"
	"go.uber.org/zap"
)

// Socket is a persistent WebSocket connection. Dialing and reading happen on
// background goroutines; state changes and callbacks happen in Pump.
type Socket struct {
	url    string
	cb     Callback
	params Params
	log    *zap.Logger
	queue  *eventQueue

	status      Status
	dialing     bool
	conn        *websocket.Conn
	closeCode   int
	socketError error
	closeTimer  *time.Timer

	localClose     atomic.Bool
	localCloseCode atomic.Int32
}

func NewSocket(url string, cb Callback, params Params) *Socket {
	params = params.withDefaults()

	return &Socket{
		url:    url,
		cb:     cb,
		params: params,
		log: params.Logger.With(
			zap.String("transport", "WebSocket"),
			zap.String("connId", utils.NewConnectionId()),
		),
		queue:  newEventQueue(params.EventBufferLength),
		status: StatusUnopened,
	}
}

func (s *Socket) URL() string        { return s.url }
func (s *Socket) Status() Status     { return s.status }
func (s *Socket) CloseCode() int     { return s.closeCode }
func (s *Socket) SocketError() error { return s.socketError }
func (s *Socket) IsWebSocket() bool  { return true }

func (s *Socket) Connect() bool {
	if s.status != StatusUnopened || s.dialing {
		return false
	}

	s.dialing = true
	go s.dial()
	return true
}

func (s *Socket) dial() {
	s.log.Info("Dialing WebSocket", zap.String("url", s.url))

	conn, _, err := s.params.Dialer.DialContext(s.queue.Context(), s.url, s.params.RequestHeader)
	if err != nil {
		s.log.Warn("Failed to dial WebSocket", zap.Error(err))
		s.queue.emit(transportEvent{kind: eventError, err: err})
		s.queue.emit(transportEvent{kind: eventClose, code: websocket.CloseAbnormalClosure})
		return
	}

	if s.params.MaxReadMessageSize > 0 {
		conn.SetReadLimit(s.params.MaxReadMessageSize)
	}

	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		select {
		case <-s.queue.Context().Done():
			conn.Close()
		case <-readerDone:
		}
	}()

	if !s.queue.emit(transportEvent{kind: eventOpen, conn: conn}) {
		return
	}
	s.readLoop(conn)
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.onReadError(err)
			return
		}

		if !s.queue.emit(transportEvent{kind: eventMessage, data: payload}) {
			return
		}
	}
}

func (s *Socket) onReadError(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && !s.localClose.Load() {
		s.log.Info("Received close frame", zap.Int("closeCode", closeErr.Code), zap.String("closeMsg", closeErr.Text))
		s.queue.emit(transportEvent{kind: eventClose, code: closeErr.Code})
		return
	}

	if s.localClose.Load() || errors.Is(err, net.ErrClosed) {
		s.log.Info("Connection closed after local close request")
		s.queue.emit(transportEvent{kind: eventClose, code: int(s.localCloseCode.Load())})
		return
	}

	s.log.Error("Received unexpected WebSocket error on message read", zap.Error(err))
	s.queue.emit(transportEvent{kind: eventError, err: err})
	s.queue.emit(transportEvent{kind: eventClose, code: websocket.CloseAbnormalClosure})
}

func (s *Socket) SendCommand(cmd command.Command) bool {
	if s.status != StatusOpened {
		return false
	}

	data, err := cmd.Serialize()
	if err != nil {
		s.log.Error("Failed to serialize command", zap.Stringer("type", cmd.Type()), zap.Error(err))
		return false
	}

	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		s.log.Warn("Failed to write command", zap.Stringer("type", cmd.Type()), zap.Error(err))
		return false
	}
	return true
}

// Close sends a close frame carrying the shifted code. The connection counts as
// closed once the peer answers, the reader stops, or the grace period passes.
// CloseCode and OnConnectionClose report code as given, not shifted.
func (s *Socket) Close(code int) bool {
	if s.status != StatusOpened {
		return false
	}

	shifted := ShiftCloseCode(code)
	s.status = StatusClosing
	s.closeCode = code
	s.localCloseCode.Store(int32(code))
	s.localClose.Store(true)

	conn := s.conn
	deadline := time.Now().Add(s.params.CloseGracePeriod)
	if err := conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(shifted, ""), deadline); err != nil {
		s.log.Warn("Failed to send close frame, dropping connection", zap.Int("closeCode", shifted), zap.Error(err))
		conn.Close()
		return true
	}

	s.closeTimer = time.AfterFunc(s.params.CloseGracePeriod, func() {
		conn.Close()
	})
	return true
}

func (s *Socket) Pump() int {
	return s.queue.drain(s.handle)
}

func (s *Socket) handle(ev transportEvent) {
	switch ev.kind {
	case eventOpen:
		s.dialing = false
		s.conn = ev.conn
		s.status = StatusOpened
		s.cb.OnConnectionOpen()
	case eventMessage:
		s.cb.OnMessage(ev.data, nil)
	case eventError:
		s.socketError = ev.err
		s.cb.OnConnectionError(ev.err)
	case eventClose:
		s.dialing = false
		if s.closeTimer != nil {
			s.closeTimer.Stop()
			s.closeTimer = nil
		}
		s.conn = nil
		s.status = StatusClosed
		s.closeCode = ev.code
		s.cb.OnConnectionClose(ev.code)
	}
}

func (s *Socket) Dispose() {
	s.queue.dispose()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
