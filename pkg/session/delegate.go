package session

import (
	"github.com/star371/netsession/pkg/command"
	"github.com/star371/netsession/pkg/transport"
)

// Delegate observes a session from the outside, typically on behalf of the
// application that owns several sessions. Every call carries the session id.
// Embed NopDelegate to implement only some of the methods.
type Delegate interface {
	OnCommand(id int, cmd command.Command)
	OnCommandFail(id int, cmd command.Command, req command.Command)
	OnConnectionOpen(id int, isReconnect bool)
	OnConnectionError(id int, err error)
	OnConnectionClose(id int, code int)
	OnCommandTimeout(id int, header *transport.HeaderMap, req command.Command)
	OnCommandError(id int, header *transport.HeaderMap, req command.Command, err error)
	// OnResendCommandFail fires when a timed out command was queued for resend
	// but could not be dispatched right away.
	OnResendCommandFail(id int, req command.Command)
	// CustomHttpHeaderMap returns headers added to the first attempt of every
	// request. It may return nil.
	CustomHttpHeaderMap(id int) *transport.HeaderMap
}

type NopDelegate struct{}

func (NopDelegate) OnCommand(int, command.Command)                                   {}
func (NopDelegate) OnCommandFail(int, command.Command, command.Command)              {}
func (NopDelegate) OnConnectionOpen(int, bool)                                       {}
func (NopDelegate) OnConnectionError(int, error)                                     {}
func (NopDelegate) OnConnectionClose(int, int)                                       {}
func (NopDelegate) OnCommandTimeout(int, *transport.HeaderMap, command.Command)      {}
func (NopDelegate) OnCommandError(int, *transport.HeaderMap, command.Command, error) {}
func (NopDelegate) OnResendCommandFail(int, command.Command)                         {}
func (NopDelegate) CustomHttpHeaderMap(int) *transport.HeaderMap                     { return nil }

// Handler is the owner of a session: the code that reacts to its commands and
// decides its resend policy. Embed NopHandler to implement only some of the
// methods.
type Handler interface {
	OnCommand(cmd command.Command)
	// OnCommandFail is called for responses that carry an error, such as a 4xx
	// answer from an http service.
	OnCommandFail(cmd command.Command, req command.Command)
	// OnRedirectCommand is called before OnCommand for commands that arrived
	// through OnRedirectMessage.
	OnRedirectCommand(cmd command.Command)

	OnConnectionOpen(isReconnect bool)
	OnConnectionError(err error)
	OnConnectionClose(code int)

	// OnCommandTimeout is called when a request got no answer on a connection
	// that is still up.
	OnCommandTimeout(header *transport.HeaderMap, req command.Command)
	// OnCommandError is called when the connection failed while req was in
	// flight.
	OnCommandError(header *transport.HeaderMap, req command.Command, err error)

	// ShouldPromiseSend reports whether a timed out request is sent again.
	ShouldPromiseSend(req command.Command) bool
}

type NopHandler struct{}

func (NopHandler) OnCommand(command.Command)                                   {}
func (NopHandler) OnCommandFail(command.Command, command.Command)              {}
func (NopHandler) OnRedirectCommand(command.Command)                           {}
func (NopHandler) OnConnectionOpen(bool)                                       {}
func (NopHandler) OnConnectionError(error)                                     {}
func (NopHandler) OnConnectionClose(int)                                       {}
func (NopHandler) OnCommandTimeout(*transport.HeaderMap, command.Command)      {}
func (NopHandler) OnCommandError(*transport.HeaderMap, command.Command, error) {}
func (NopHandler) ShouldPromiseSend(command.Command) bool                      { return false }
