package command

import (
	"fmt"
	"strconv"
)

type Kind int

const (
	KindBinary Kind = iota
	KindJson
	KindRest
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "Binary"
	case KindJson:
		return "Json"
	case KindRest:
		return "Rest"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

const (
	ContentTypeJson     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
	ContentTypeForm     = "application/x-www-form-urlencoded"
)

// Type identifies a command on the wire. It is either a numeric opcode or,
// for REST services, a request path. Type values are comparable and can be
// used as map keys.
type Type struct {
	code   int32
	path   string
	isPath bool
}

func Code(code int32) Type {
	return Type{code: code}
}

func Path(path string) Type {
	return Type{path: path, isPath: true}
}

func (t Type) IsPath() bool {
	return t.isPath
}

func (t Type) Code() int32 {
	return t.code
}

func (t Type) Path() string {
	return t.path
}

func (t Type) String() string {
	if t.isPath {
		return t.path
	}
	return strconv.FormatInt(int64(t.code), 10)
}

// Command is one request or response unit. A Command is immutable once built,
// except for the one-shot Mark latch used by request/response transports.
type Command interface {
	Kind() Kind
	Type() Type
	Content() any
	ReqCommand() Command
	HeaderContentType() string

	Serialize() ([]byte, error)
	// Parse decodes the content into target.
	Parse(target any) error
	// Reverse builds an error response for this command carrying the same Type.
	// A nil error yields (nil, false).
	Reverse(e *Error) (Command, bool)
	// Failure decodes the error envelope carried by a failed response.
	Failure() (*Error, error)

	Marked() bool
	Mark()
}

// Base holds the state shared by every Command implementation.
type Base struct {
	typ     Type
	content any
	req     Command
	marked  bool
}

func NewBase(typ Type, content any, req Command) Base {
	return Base{
		typ:     typ,
		content: content,
		req:     req,
	}
}

func (b *Base) Type() Type {
	return b.typ
}

func (b *Base) Content() any {
	return b.content
}

func (b *Base) ReqCommand() Command {
	return b.req
}

func (b *Base) Marked() bool {
	return b.marked
}

func (b *Base) Mark() {
	b.marked = true
}

type Builder func(typ Type, content any) Command

type Parser func(data []byte, req Command) (Command, error)

// Codec pairs a builder with a parser. Each service picks one codec when it is
// constructed and keeps it for its whole lifetime.
type Codec struct {
	Kind  Kind
	Build Builder
	Parse Parser
}
