package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/star371/netsession/pkg/command"
	neterrors "github.com/star371/netsession/pkg/errors"
	utils "github.com/star371/netsession/pkg/util"
	"go.uber.org/zap"
)

// Http runs every command as its own POST request. It has no real handshake:
// Connect and Close only raise the matching events so that it can stand in for
// a Socket.
type Http struct {
	url    string
	cb     Callback
	params Params
	log    *zap.Logger
	client *resty.Client
	queue  *eventQueue

	status      Status
	connecting  bool
	closeCode   int
	socketError error
}

func NewHttp(url string, cb Callback, params Params) *Http {
	params = params.withDefaults()

	return &Http{
		url:    url,
		cb:     cb,
		params: params,
		log: params.Logger.With(
			zap.String("transport", "Http"),
			zap.String("connId", utils.NewConnectionId()),
		),
		client: params.HttpClient,
		queue:  newEventQueue(params.EventBufferLength),
		status: StatusUnopened,
	}
}

func (h *Http) URL() string        { return h.url }
func (h *Http) Status() Status     { return h.status }
func (h *Http) CloseCode() int     { return h.closeCode }
func (h *Http) SocketError() error { return h.socketError }
func (h *Http) IsWebSocket() bool  { return false }

func (h *Http) Connect() bool {
	if h.status != StatusUnopened || h.connecting {
		return false
	}
	h.connecting = true
	h.queue.post(transportEvent{kind: eventOpen})
	return true
}

// Close needs no handshake, so code is kept as given.
func (h *Http) Close(code int) bool {
	if h.status != StatusOpened {
		return false
	}
	h.status = StatusClosing
	h.closeCode = code
	h.queue.post(transportEvent{kind: eventClose, code: code})
	return true
}

func (h *Http) requestUrl(typ command.Type) string {
	if typ.IsPath() {
		return JoinUrl(h.url, typ.Path())
	}
	return h.url
}

func (h *Http) SendCommand(cmd command.Command) bool {
	if h.status != StatusOpened {
		return false
	}

	data, err := cmd.Serialize()
	if err != nil {
		h.log.Error("Failed to serialize command", zap.Stringer("type", cmd.Type()), zap.Error(err))
		return false
	}

	header := h.cb.CustomRequestHeaderMap(cmd)
	timeout := h.cb.TimeoutTime()
	go h.request(h.requestUrl(cmd.Type()), data, header, timeout, cmd)
	return true
}

func (h *Http) request(url string, data []byte, header *HeaderMap, timeout time.Duration, cmd command.Command) {
	ctx := h.queue.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", cmd.HeaderContentType()).
		SetBody(data)
	header.Range(func(key string, value any) bool {
		req.SetHeader(key, HeaderValue(value))
		return true
	})

	resp, err := req.Post(url)
	if err != nil {
		if h.queue.Context().Err() != nil {
			// disposed
			return
		}
		if isTimeout(ctx, err) {
			h.log.Warn("Request timed out", zap.String("url", url), zap.Duration("timeout", timeout))
			h.queue.emit(transportEvent{kind: eventTimeout, header: header, req: cmd})
			return
		}
		h.log.Warn("Request failed", zap.String("url", url), zap.Error(err))
		h.queue.emit(transportEvent{kind: eventCommandError, header: header, req: cmd, err: err})
		return
	}

	h.queue.emit(transportEvent{
		kind:     eventResponse,
		req:      cmd,
		header:   header,
		status:   resp.StatusCode(),
		sequence: resp.Header().Get(HeaderSequence),
		data:     resp.Body(),
	})
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (h *Http) Pump() int {
	return h.queue.drain(h.handle)
}

func (h *Http) handle(ev transportEvent) {
	switch ev.kind {
	case eventOpen:
		h.connecting = false
		h.status = StatusOpened
		h.cb.OnConnectionOpen()
	case eventClose:
		h.status = StatusClosed
		h.closeCode = ev.code
		h.cb.OnConnectionClose(ev.code)
	case eventTimeout:
		if ev.req.Marked() {
			return
		}
		h.cb.OnCommandTimeout(ev.header, ev.req)
	case eventCommandError:
		if ev.req.Marked() {
			return
		}
		h.socketError = ev.err
		h.cb.OnCommandError(ev.header, ev.req, ev.err)
	case eventResponse:
		if ev.req.Marked() {
			h.log.Debug("Dropping response for a command that already has one", zap.Stringer("type", ev.req.Type()))
			return
		}
		ev.req.Mark()
		h.handleResponse(ev)
	}
}

func (h *Http) handleResponse(ev transportEvent) {
	if segments, ok := parseSequence(ev.sequence); ok {
		h.deliverSegments(ev, segments)
		return
	}

	switch {
	case ev.status == http.StatusNoContent:
	case ev.status >= 200 && ev.status < 300:
		h.cb.OnMessage(ev.data, ev.req)
	case ev.status >= 400 && ev.status < 500:
		h.cb.OnMessageFail(ev.data, ev.req)
	default:
		message := string(ev.data)
		if message == "" {
			message = http.StatusText(ev.status)
		}
		reversed, ok := ev.req.Reverse(&command.Error{Type: int32(ev.status), Message: message})
		if !ok {
			return
		}
		data, err := reversed.Serialize()
		if err != nil {
			h.log.Error("Failed to serialize reversed command", zap.Int("status", ev.status), zap.Error(err))
			return
		}
		h.cb.OnMessageFail(data, ev.req)
	}
}

// deliverSegments splits a body by the byte lengths declared in the sequence
// header and delivers every slice as its own message.
func (h *Http) deliverSegments(ev transportEvent, segments []int) {
	offset := 0
	for _, length := range segments {
		if length < 0 || offset+length > len(ev.data) {
			h.log.Error("Segmented response does not match its body", zap.Error(&neterrors.Underflow{
				MessageName: HeaderSequence,
				MsgSize:     len(ev.data),
				MinimumSize: offset + length,
			}))
			return
		}
		h.cb.OnMessage(ev.data[offset:offset+length], ev.req)
		offset += length
	}
}

func parseSequence(value string) ([]int, bool) {
	value = strings.TrimSpace(value)
	if value == "" || value == "-1" {
		return nil, false
	}

	parts := strings.Split(value, ",")
	segments := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, false
		}
		segments = append(segments, n)
	}
	return segments, true
}

func (h *Http) Dispose() {
	h.queue.dispose()
}
