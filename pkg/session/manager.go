// Package session keeps one logical connection to a backend service alive on
// top of a transport: it buffers commands while offline, replays them when the
// connection opens, tracks retries per request and runs periodic sends.
//
// A Manager is not safe for concurrent use. Every method, including Process,
// must be called from the goroutine that owns it.
package session

import (
	"fmt"
	"time"

	"github.com/star371/netsession/pkg/command"
	neterrors "github.com/star371/netsession/pkg/errors"
	"github.com/star371/netsession/pkg/transport"
	utils "github.com/star371/netsession/pkg/util"
	"go.uber.org/zap"
)

const DefaultTimeout = 10 * time.Second

var defaultSerialNumbers = utils.CreateTimeSeededSerialNumberGenerator()

type TransportFactory func(url string, cb transport.Callback) transport.Transport

type Options struct {
	// Id is passed to every Delegate call and scopes the logger.
	Id int

	Codec    command.Codec
	Delegate Delegate
	Handler  Handler

	// Timeout bounds every http request. Defaults to DefaultTimeout.
	Timeout time.Duration

	Logger          *zap.Logger
	TransportParams transport.Params
	// NewTransport overrides transport.New.
	NewTransport  TransportFactory
	SerialNumbers *utils.SerialNumberGenerator
}

type promiseCommand struct {
	header *transport.HeaderMap
	cmd    command.Command
}

type scheduleSendInfo struct {
	interval time.Duration
	tick     time.Duration
	typ      command.Type
	content  any
}

type Manager struct {
	id       int
	codec    command.Codec
	delegate Delegate
	handler  Handler
	timeout  time.Duration
	log      *zap.Logger

	newTransport  TransportFactory
	serialNumbers *utils.SerialNumberGenerator

	transport    transport.Transport
	connectCount int
	destroyed    bool
	// closeReported is set once a close of the current transport has been
	// synthesized, so a Reconnect from inside that callback does not repeat it.
	closeReported bool

	promiseQueue  []promiseCommand
	schedules     map[command.Type]*scheduleSendInfo
	scheduleOrder []command.Type
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Codec.Build == nil {
		return nil, &neterrors.MissingFieldError{MessageName: "session.Options", FieldName: "Codec.Build"}
	}
	if opts.Codec.Parse == nil {
		return nil, &neterrors.MissingFieldError{MessageName: "session.Options", FieldName: "Codec.Parse"}
	}

	if opts.Delegate == nil {
		opts.Delegate = NopDelegate{}
	}
	if opts.Handler == nil {
		opts.Handler = NopHandler{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SerialNumbers == nil {
		opts.SerialNumbers = defaultSerialNumbers
	}
	if opts.NewTransport == nil {
		params := opts.TransportParams
		if params.Logger == nil {
			params.Logger = opts.Logger
		}
		opts.NewTransport = func(url string, cb transport.Callback) transport.Transport {
			return transport.New(url, cb, params)
		}
	}

	return &Manager{
		id:            opts.Id,
		codec:         opts.Codec,
		delegate:      opts.Delegate,
		handler:       opts.Handler,
		timeout:       opts.Timeout,
		log:           opts.Logger.With(zap.Int("service", opts.Id), zap.Stringer("codec", opts.Codec.Kind)),
		newTransport:  opts.NewTransport,
		serialNumbers: opts.SerialNumbers,
		schedules:     make(map[command.Type]*scheduleSendInfo),
	}, nil
}

func (m *Manager) Id() int            { return m.id }
func (m *Manager) Kind() command.Kind { return m.codec.Kind }
func (m *Manager) Destroyed() bool    { return m.destroyed }
func (m *Manager) ConnectCount() int  { return m.connectCount }

// IsReconnect reports whether the current connection is not the first one.
func (m *Manager) IsReconnect() bool { return m.connectCount > 1 }

func (m *Manager) IsConnected() bool {
	return m.transport != nil && m.transport.Status() == transport.StatusOpened
}

func (m *Manager) Status() transport.Status {
	if m.transport == nil {
		return transport.StatusUnopened
	}
	return m.transport.Status()
}

func (m *Manager) URL() string {
	if m.transport == nil {
		return ""
	}
	return m.transport.URL()
}

func (m *Manager) UseWebSocket() bool {
	return m.transport != nil && m.transport.IsWebSocket()
}

func (m *Manager) CloseCode() int {
	if m.transport == nil {
		return 0
	}
	return m.transport.CloseCode()
}

func (m *Manager) SocketError() error {
	if m.transport == nil {
		return nil
	}
	return m.transport.SocketError()
}

// PendingCommands is the number of commands waiting for the connection.
func (m *Manager) PendingCommands() int { return len(m.promiseQueue) }

func (m *Manager) misuse(operation string, reason string) {
	m.log.Error("Session misuse", zap.Error(&neterrors.Misuse{Operation: operation, Reason: reason}))
}

// Connect opens the first connection of the session. Use Reconnect for every
// later one.
func (m *Manager) Connect(url string) bool {
	if m.destroyed {
		m.misuse("Connect", "session is destroyed")
		return false
	}
	if m.connectCount > 0 {
		m.misuse("Connect", "only the first connection may use Connect, call Reconnect instead")
		return false
	}
	if url == "" {
		m.misuse("Connect", "url is empty")
		return false
	}
	return m.doConnect(url)
}

// Reconnect opens a new connection to the last url.
func (m *Manager) Reconnect() bool {
	if m.destroyed {
		m.misuse("Reconnect", "session is destroyed")
		return false
	}
	if m.transport == nil {
		m.misuse("Reconnect", "Connect has not been called")
		return false
	}
	return m.doConnect(m.transport.URL())
}

func (m *Manager) doConnect(url string) bool {
	if m.IsConnected() {
		return false
	}

	// A close the old transport has not delivered yet is reported before the
	// transport is replaced.
	if old := m.transport; old != nil {
		old.Pump()
		if m.transport != old {
			return true
		}
		if m.IsConnected() {
			return false
		}
		if old.Status() == transport.StatusClosing && !m.closeReported {
			m.closeReported = true
			m.onConnectionClose(old.CloseCode())
			if m.transport != old {
				return true
			}
		}
		old.Dispose()
	}
	m.connectCount++
	m.closeReported = false
	m.transport = m.newTransport(url, &callback{m: m})
	m.log.Info("Connecting", zap.String("url", url), zap.Int("connectCount", m.connectCount))
	m.transport.Connect()
	return true
}

func (m *Manager) Close(code int) bool {
	if m.transport == nil {
		m.misuse("Close", "Connect has not been called")
		return false
	}
	return m.transport.Close(code)
}

// Destroy ends the session. Queued and scheduled commands are dropped and the
// transport is released; nothing is sent afterwards.
func (m *Manager) Destroy() {
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.promiseQueue = nil
	m.schedules = make(map[command.Type]*scheduleSendInfo)
	m.scheduleOrder = nil
	if m.transport != nil {
		m.transport.Dispose()
	}
	m.log.Info("Session destroyed")
}

// SendCommand sends a command right away when the connection is open and
// queues it for the next open otherwise. It returns false only once the
// session has been destroyed.
func (m *Manager) SendCommand(typ command.Type, content any) bool {
	if m.destroyed {
		return false
	}

	cmd := m.codec.Build(typ, content)
	if m.dispatch(cmd) {
		return true
	}

	m.promiseQueue = append(m.promiseQueue, promiseCommand{cmd: cmd})
	return true
}

func (m *Manager) dispatch(cmd command.Command) bool {
	if !m.IsConnected() {
		return false
	}
	if !m.transport.SendCommand(cmd) {
		return false
	}
	m.removePromise(cmd)
	return true
}

func (m *Manager) removePromise(cmd command.Command) (promiseCommand, bool) {
	for i, p := range m.promiseQueue {
		if p.cmd == cmd {
			m.promiseQueue = append(m.promiseQueue[:i], m.promiseQueue[i+1:]...)
			return p, true
		}
	}
	return promiseCommand{}, false
}

// ScheduleSendCommand sends typ every interval while the connection is open.
// content is sent as is, unless it is a func() any or a
// func(command.Type) any, which is called for every send. The first send
// happens on the first Process call after the connection opens.
func (m *Manager) ScheduleSendCommand(interval time.Duration, typ command.Type, content any) bool {
	if m.destroyed {
		return false
	}
	if _, has := m.schedules[typ]; has {
		return false
	}

	m.schedules[typ] = &scheduleSendInfo{
		interval: interval,
		tick:     interval,
		typ:      typ,
		content:  content,
	}
	m.scheduleOrder = append(m.scheduleOrder, typ)
	return true
}

func (m *Manager) UnscheduleSendCommand(typ command.Type) bool {
	if _, has := m.schedules[typ]; !has {
		return false
	}

	delete(m.schedules, typ)
	for i, t := range m.scheduleOrder {
		if t == typ {
			m.scheduleOrder = append(m.scheduleOrder[:i], m.scheduleOrder[i+1:]...)
			break
		}
	}
	return true
}

func (m *Manager) IsScheduled(typ command.Type) bool {
	_, has := m.schedules[typ]
	return has
}

func scheduledContent(info *scheduleSendInfo) any {
	switch produce := info.content.(type) {
	case func() any:
		return produce()
	case func(command.Type) any:
		return produce(info.typ)
	}
	return info.content
}

// Process delivers pending transport events and advances the schedules by dt.
// It returns the number of transport events delivered.
func (m *Manager) Process(dt time.Duration) int {
	if m.destroyed || m.transport == nil {
		return 0
	}

	delivered := m.transport.Pump()

	if m.destroyed || !m.IsConnected() {
		return delivered
	}
	for _, typ := range append([]command.Type(nil), m.scheduleOrder...) {
		info, has := m.schedules[typ]
		if !has {
			continue
		}
		info.tick += dt
		if info.tick >= info.interval {
			info.tick = 0
			m.SendCommand(info.typ, scheduledContent(info))
		}
	}
	return delivered
}

// OnRedirectMessage handles a message that reached this session through
// another service's connection.
func (m *Manager) OnRedirectMessage(data []byte) {
	m.onMessage(true, data, nil)
}

func (m *Manager) safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Recovered from panic in delegate", zap.String("callback", name), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

func (m *Manager) onMessage(redirect bool, data []byte, req command.Command) {
	cmd, err := m.codec.Parse(data, req)
	if err != nil {
		m.log.Error("Failed to parse command", zap.Bool("redirect", redirect), zap.Int("size", len(data)), zap.Error(err))
		return
	}

	m.safeCall("OnCommand", func() { m.delegate.OnCommand(m.id, cmd) })
	if redirect {
		m.handler.OnRedirectCommand(cmd)
	}
	m.handler.OnCommand(cmd)
}

func (m *Manager) onMessageFail(data []byte, req command.Command) {
	cmd, err := m.codec.Parse(data, req)
	if err != nil {
		m.log.Error("Failed to parse failed command", zap.Int("size", len(data)), zap.Error(err))
		return
	}

	m.safeCall("OnCommandFail", func() { m.delegate.OnCommandFail(m.id, cmd, req) })
	m.handler.OnCommandFail(cmd, req)
}

func (m *Manager) onConnectionOpen() {
	isReconnect := m.IsReconnect()
	m.log.Info("Connection open", zap.Bool("isReconnect", isReconnect), zap.Int("pending", len(m.promiseQueue)))
	m.safeCall("OnConnectionOpen", func() { m.delegate.OnConnectionOpen(m.id, isReconnect) })

	if len(m.promiseQueue) > 0 {
		queue := append([]promiseCommand(nil), m.promiseQueue...)
		for _, p := range queue {
			m.dispatch(p.cmd)
		}
	}

	m.handler.OnConnectionOpen(isReconnect)
}

func (m *Manager) onConnectionError(err error) {
	m.safeCall("OnConnectionError", func() { m.delegate.OnConnectionError(m.id, err) })
	m.handler.OnConnectionError(err)
}

func (m *Manager) onConnectionClose(code int) {
	m.log.Info("Connection closed", zap.Int("closeCode", code))
	m.safeCall("OnConnectionClose", func() { m.delegate.OnConnectionClose(m.id, code) })
	m.handler.OnConnectionClose(code)
}

func (m *Manager) onCommandTimeout(header *transport.HeaderMap, req command.Command) {
	m.safeCall("OnCommandTimeout", func() { m.delegate.OnCommandTimeout(m.id, header, req) })
	m.handler.OnCommandTimeout(header, req)
	m.promisingCommand(header, req)
}

func (m *Manager) onCommandError(header *transport.HeaderMap, req command.Command, err error) {
	m.safeCall("OnCommandError", func() { m.delegate.OnCommandError(m.id, header, req, err) })
	m.handler.OnCommandError(header, req, err)
}

func (m *Manager) promisingCommand(header *transport.HeaderMap, req command.Command) {
	if m.destroyed || !m.handler.ShouldPromiseSend(req) {
		return
	}

	m.promiseQueue = append(m.promiseQueue, promiseCommand{header: header, cmd: req})
	if !m.dispatch(req) {
		m.log.Warn("Resend failed", zap.Stringer("type", req.Type()), zap.Int("retry", header.Retry()))
		m.safeCall("OnResendCommandFail", func() { m.delegate.OnResendCommandFail(m.id, req) })
	}
}

// customRequestHeaderMap hands out the header for one attempt of cmd. A
// command waiting in the queue with a header is a resend: its header is reused
// with the retry count raised. Anything else gets a fresh header.
func (m *Manager) customRequestHeaderMap(cmd command.Command) *transport.HeaderMap {
	if p, has := m.removePromise(cmd); has && p.header != nil {
		return p.header.Set(transport.HeaderRetryCount, p.header.Retry()+1)
	}

	header := transport.NewHeaderMap().
		Set(transport.HeaderRetryCount, 0).
		Set(transport.HeaderSerialNo, m.serialNumbers.Next())

	var custom *transport.HeaderMap
	m.safeCall("CustomHttpHeaderMap", func() { custom = m.delegate.CustomHttpHeaderMap(m.id) })
	custom.Range(func(key string, value any) bool {
		header.Set(key, value)
		return true
	})
	return header
}

// callback adapts a Manager to transport.Callback without exposing the
// transport hooks on Manager itself.
type callback struct {
	m *Manager
}

func (c *callback) OnConnectionOpen()                              { c.m.onConnectionOpen() }
func (c *callback) OnConnectionError(err error)                    { c.m.onConnectionError(err) }
func (c *callback) OnConnectionClose(code int)                     { c.m.onConnectionClose(code) }
func (c *callback) OnMessage(data []byte, req command.Command)     { c.m.onMessage(false, data, req) }
func (c *callback) OnMessageFail(data []byte, req command.Command) { c.m.onMessageFail(data, req) }
func (c *callback) TimeoutTime() time.Duration                     { return c.m.timeout }

func (c *callback) OnCommandTimeout(header *transport.HeaderMap, req command.Command) {
	c.m.onCommandTimeout(header, req)
}

func (c *callback) OnCommandError(header *transport.HeaderMap, req command.Command, err error) {
	c.m.onCommandError(header, req, err)
}

func (c *callback) CustomRequestHeaderMap(cmd command.Command) *transport.HeaderMap {
	return c.m.customRequestHeaderMap(cmd)
}
