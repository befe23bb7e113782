package command

import (
	"fmt"

	neterrors "github.com/star371/netsession/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

const (
	errorTypeField    protowire.Number = 1
	errorMessageField protowire.Number = 2
)

// Error is the envelope a server (or a transport, on its behalf) uses to
// describe a failed request.
type Error struct {
	Type    int32  `json:"type"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("command error %d: %s", e.Type, e.Message)
}

// MarshalError encodes e with the same field layout as the protobuf Error
// message used by binary and REST services.
func MarshalError(e *Error) []byte {
	var b []byte
	b = protowire.AppendTag(b, errorTypeField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(e.Type)))
	b = protowire.AppendTag(b, errorMessageField, protowire.BytesType)
	b = protowire.AppendString(b, e.Message)
	return b
}

func UnmarshalError(data []byte) (*Error, error) {
	e := &Error{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case num == errorTypeField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e.Type = int32(v)
			data = data[n:]
		case num == errorMessageField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			e.Message = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return e, nil
}

// Bytes returns the binary form of a content value. Nil content is an empty,
// non-nil slice.
func Bytes(kind Kind, content any) ([]byte, error) {
	switch c := content.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		if c == nil {
			return []byte{}, nil
		}
		return c, nil
	case *Error:
		return MarshalError(c), nil
	case proto.Message:
		return proto.Marshal(c)
	}
	return nil, &neterrors.UnexpectedContent{
		CommandKind: kind.String(),
		ContentType: fmt.Sprintf("%T", content),
	}
}

// ParseBytes decodes binary content into target, which must be a proto.Message.
func ParseBytes(kind Kind, content any, target any) error {
	msg, ok := target.(proto.Message)
	if !ok {
		return &neterrors.UnexpectedContent{
			CommandKind: kind.String(),
			ContentType: fmt.Sprintf("%T", target),
		}
	}
	data, err := Bytes(kind, content)
	if err != nil {
		return err
	}
	return proto.Unmarshal(data, msg)
}
