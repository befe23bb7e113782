// Package protocommand carries commands in a protobuf envelope
// {1: int32 type, 2: bytes content}.
package protocommand

import (
	"github.com/star371/netsession/pkg/command"
	neterrors "github.com/star371/netsession/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	envelopeTypeField    protowire.Number = 1
	envelopeContentField protowire.Number = 2
)

var Codec = command.Codec{
	Kind:  command.KindBinary,
	Build: Build,
	Parse: Parse,
}

type Command struct {
	command.Base
}

// New builds a command. Content may be a proto.Message, pre-serialized bytes,
// a *command.Error or nil.
func New(typ command.Type, content any, req command.Command) *Command {
	return &Command{
		Base: command.NewBase(typ, content, req),
	}
}

func Build(typ command.Type, content any) command.Command {
	return New(typ, content, nil)
}

func Parse(data []byte, req command.Command) (command.Command, error) {
	typ, content, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	return New(command.Code(typ), content, req), nil
}

func (c *Command) Kind() command.Kind {
	return command.KindBinary
}

func (c *Command) HeaderContentType() string {
	return command.ContentTypeProtobuf
}

func (c *Command) Serialize() ([]byte, error) {
	body, err := command.Bytes(command.KindBinary, c.Content())
	if err != nil {
		return nil, err
	}

	b := make([]byte, 0, len(body)+16)
	b = protowire.AppendTag(b, envelopeTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(c.Type().Code())))
	// content is always written so an empty payload stays distinguishable
	b = protowire.AppendTag(b, envelopeContentField, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b, nil
}

func (c *Command) Parse(target any) error {
	return command.ParseBytes(command.KindBinary, c.Content(), target)
}

func (c *Command) Reverse(e *command.Error) (command.Command, bool) {
	if e == nil {
		return nil, false
	}
	return New(c.Type(), e, c), true
}

func (c *Command) Failure() (*command.Error, error) {
	data, err := command.Bytes(command.KindBinary, c.Content())
	if err != nil {
		return nil, err
	}
	return command.UnmarshalError(data)
}

func decodeEnvelope(data []byte) (int32, []byte, error) {
	var (
		typ        int32
		content    []byte
		hasType    bool
		hasContent bool
	)

	for len(data) > 0 {
		num, wireType, n := protowire.ConsumeTag(data)
		if n < 0 {
			return 0, nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == envelopeTypeField && wireType == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			typ = int32(v)
			hasType = true
			data = data[n:]
		case num == envelopeContentField && wireType == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			content = append([]byte{}, v...)
			hasContent = true
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, wireType, data)
			if n < 0 {
				return 0, nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}

	if !hasType && !hasContent {
		return 0, nil, &neterrors.MissingFieldError{MessageName: "ProtoCommand", FieldName: "type"}
	}
	if content == nil {
		content = []byte{}
	}
	return typ, content, nil
}
