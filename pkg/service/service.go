// Package service wraps a session with a connection lifecycle (start, enable,
// disable, destroy) and keeps services addressable by name in a Registry.
package service

import (
	"time"

	"github.com/star371/netsession/pkg/command"
	"github.com/star371/netsession/pkg/command/jsoncommand"
	"github.com/star371/netsession/pkg/command/protocommand"
	"github.com/star371/netsession/pkg/command/restcommand"
	neterrors "github.com/star371/netsession/pkg/errors"
	"github.com/star371/netsession/pkg/session"
	"github.com/star371/netsession/pkg/transport"
	"go.uber.org/zap"
)

const DefaultTimeout = 5 * time.Second

// The hooks below are optional. A service calls the ones its behavior value
// implements.

// Starter runs once, on the first open of the service.
type Starter interface {
	Start(svc *Service)
}

// Enabler runs on every open, reconnects included.
type Enabler interface {
	OnEnable(svc *Service)
}

// Disabler runs every time the connection closes.
type Disabler interface {
	OnDisable(svc *Service)
}

type Destroyer interface {
	OnDestroy(svc *Service)
}

type CommandHandler interface {
	OnCommand(svc *Service, cmd command.Command)
}

// FailHandler replaces the default handling of failed responses, which logs
// the decoded error.
type FailHandler interface {
	OnCommandFail(svc *Service, cmd command.Command, req command.Command)
}

type TimeoutHandler interface {
	OnCommandTimeout(svc *Service, header *transport.HeaderMap, req command.Command)
}

type ErrorHandler interface {
	OnCommandError(svc *Service, header *transport.HeaderMap, req command.Command, err error)
}

// Promiser opts timed out requests into being sent again.
type Promiser interface {
	ShouldPromiseSend(req command.Command) bool
}

type Config struct {
	Name string
	Id   int

	Codec    command.Codec
	Delegate session.Delegate

	// Timeout bounds every http request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// AutoManaged overrides the default: true for every codec but REST.
	AutoManaged *bool

	Logger          *zap.Logger
	TransportParams transport.Params
	NewTransport    session.TransportFactory
}

type Service struct {
	name        string
	behavior    any
	autoManaged bool
	started     bool
	log         *zap.Logger

	manager  *session.Manager
	registry *Registry
}

// New builds a service around behavior, which may implement any of the hook
// interfaces of this package.
func New(cfg Config, behavior any) (*Service, error) {
	if cfg.Name == "" {
		return nil, &neterrors.MissingFieldError{MessageName: "service.Config", FieldName: "Name"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	autoManaged := cfg.Codec.Kind != command.KindRest
	if cfg.AutoManaged != nil {
		autoManaged = *cfg.AutoManaged
	}

	svc := &Service{
		name:        cfg.Name,
		behavior:    behavior,
		autoManaged: autoManaged,
		log:         cfg.Logger.With(zap.String("name", cfg.Name), zap.Int("service", cfg.Id)),
	}

	manager, err := session.NewManager(session.Options{
		Id:              cfg.Id,
		Codec:           cfg.Codec,
		Delegate:        cfg.Delegate,
		Handler:         &handler{svc: svc},
		Timeout:         cfg.Timeout,
		Logger:          cfg.Logger.With(zap.String("name", cfg.Name)),
		TransportParams: cfg.TransportParams,
		NewTransport:    cfg.NewTransport,
	})
	if err != nil {
		return nil, err
	}
	svc.manager = manager
	return svc, nil
}

func NewProto(cfg Config, behavior any) (*Service, error) {
	cfg.Codec = protocommand.Codec
	return New(cfg, behavior)
}

func NewJson(cfg Config, behavior any) (*Service, error) {
	cfg.Codec = jsoncommand.Codec
	return New(cfg, behavior)
}

func NewRest(cfg Config, behavior any) (*Service, error) {
	cfg.Codec = restcommand.Codec
	return New(cfg, behavior)
}

func (s *Service) Name() string        { return s.name }
func (s *Service) Id() int             { return s.manager.Id() }
func (s *Service) Behavior() any       { return s.behavior }
func (s *Service) Kind() command.Kind  { return s.manager.Kind() }
func (s *Service) Logger() *zap.Logger { return s.log }

// IsAutoManaged reports whether the Registry closes and reconnects this
// service along with the others.
func (s *Service) IsAutoManaged() bool { return s.autoManaged }

func (s *Service) IsConnected() bool        { return s.manager.IsConnected() }
func (s *Service) IsReconnect() bool        { return s.manager.IsReconnect() }
func (s *Service) Status() transport.Status { return s.manager.Status() }
func (s *Service) URL() string              { return s.manager.URL() }
func (s *Service) UseWebSocket() bool       { return s.manager.UseWebSocket() }
func (s *Service) CloseCode() int           { return s.manager.CloseCode() }
func (s *Service) SocketError() error       { return s.manager.SocketError() }
func (s *Service) Destroyed() bool          { return s.manager.Destroyed() }

func (s *Service) Connect(url string) bool { return s.manager.Connect(url) }
func (s *Service) Reconnect() bool         { return s.manager.Reconnect() }
func (s *Service) Close(code int) bool     { return s.manager.Close(code) }

func (s *Service) SendCommand(typ command.Type, content any) bool {
	return s.manager.SendCommand(typ, content)
}

func (s *Service) ScheduleSendCommand(interval time.Duration, typ command.Type, content any) bool {
	return s.manager.ScheduleSendCommand(interval, typ, content)
}

func (s *Service) UnscheduleSendCommand(typ command.Type) bool {
	return s.manager.UnscheduleSendCommand(typ)
}

func (s *Service) Process(dt time.Duration) int {
	return s.manager.Process(dt)
}

// OnRedirectMessage handles a message another service received on behalf of
// this one.
func (s *Service) OnRedirectMessage(data []byte) {
	s.manager.OnRedirectMessage(data)
}

// Destroy ends the service and frees its name in the Registry.
func (s *Service) Destroy() {
	if s.manager.Destroyed() {
		return
	}
	s.manager.Destroy()
	if d, ok := s.behavior.(Destroyer); ok {
		d.OnDestroy(s)
	}
	if s.registry != nil {
		s.registry.release(s)
		s.registry = nil
	}
}

// handler turns session callbacks into lifecycle hooks.
type handler struct {
	svc *Service
}

func (h *handler) OnCommand(cmd command.Command) {
	if c, ok := h.svc.behavior.(CommandHandler); ok {
		c.OnCommand(h.svc, cmd)
	}
}

func (h *handler) OnCommandFail(cmd command.Command, req command.Command) {
	if f, ok := h.svc.behavior.(FailHandler); ok {
		f.OnCommandFail(h.svc, cmd, req)
		return
	}

	reqType := cmd.Type()
	if req != nil {
		reqType = req.Type()
	}
	failure, err := cmd.Failure()
	if err != nil {
		h.svc.log.Error("SendCommand failed with an unreadable error", zap.Stringer("type", reqType), zap.Error(err))
		return
	}
	h.svc.log.Error("SendCommand failed",
		zap.Stringer("type", reqType),
		zap.Int32("errorType", failure.Type),
		zap.String("message", failure.Message))
}

func (h *handler) OnRedirectCommand(cmd command.Command) {
	if h.svc.UseWebSocket() {
		h.svc.log.Warn("Redirected command on a websocket service", zap.Stringer("type", cmd.Type()))
	}
}

func (h *handler) OnConnectionOpen(isReconnect bool) {
	if !h.svc.started {
		h.svc.started = true
		if s, ok := h.svc.behavior.(Starter); ok {
			s.Start(h.svc)
		}
	}
	if e, ok := h.svc.behavior.(Enabler); ok {
		e.OnEnable(h.svc)
	}
}

func (h *handler) OnConnectionError(err error) {
	h.svc.log.Warn("Connection error", zap.Error(err))
}

func (h *handler) OnConnectionClose(code int) {
	if d, ok := h.svc.behavior.(Disabler); ok {
		d.OnDisable(h.svc)
	}
}

func (h *handler) OnCommandTimeout(header *transport.HeaderMap, req command.Command) {
	if t, ok := h.svc.behavior.(TimeoutHandler); ok {
		t.OnCommandTimeout(h.svc, header, req)
	}
}

func (h *handler) OnCommandError(header *transport.HeaderMap, req command.Command, err error) {
	if e, ok := h.svc.behavior.(ErrorHandler); ok {
		e.OnCommandError(h.svc, header, req, err)
	}
}

func (h *handler) ShouldPromiseSend(req command.Command) bool {
	if p, ok := h.svc.behavior.(Promiser); ok {
		return p.ShouldPromiseSend(req)
	}
	return false
}
