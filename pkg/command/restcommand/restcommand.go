// Package restcommand sends content as a raw protobuf body. The command type is
// a request path, and responses take the type of the request they answer.
package restcommand

import (
	"github.com/star371/netsession/pkg/command"
	neterrors "github.com/star371/netsession/pkg/errors"
)

var Codec = command.Codec{
	Kind:  command.KindRest,
	Build: Build,
	Parse: Parse,
}

type Command struct {
	command.Base
}

func New(typ command.Type, content any, req command.Command) *Command {
	return &Command{
		Base: command.NewBase(typ, content, req),
	}
}

func Build(typ command.Type, content any) command.Command {
	return New(typ, content, nil)
}

func Parse(data []byte, req command.Command) (command.Command, error) {
	if req == nil {
		return nil, &neterrors.MissingFieldError{MessageName: "RestCommand", FieldName: "ReqCommand"}
	}
	return New(req.Type(), data, req), nil
}

func (c *Command) Kind() command.Kind {
	return command.KindRest
}

func (c *Command) HeaderContentType() string {
	return command.ContentTypeProtobuf
}

func (c *Command) Serialize() ([]byte, error) {
	return command.Bytes(command.KindRest, c.Content())
}

func (c *Command) Parse(target any) error {
	return command.ParseBytes(command.KindRest, c.Content(), target)
}

func (c *Command) Reverse(e *command.Error) (command.Command, bool) {
	if e == nil {
		return nil, false
	}
	return New(c.Type(), e, c), true
}

func (c *Command) Failure() (*command.Error, error) {
	data, err := command.Bytes(command.KindRest, c.Content())
	if err != nil {
		return nil, err
	}
	return command.UnmarshalError(data)
}
