// Package jsoncommand carries commands as JSON text.
//
// The envelope is {"type": <code>, "content": "<text>"} where the content text
// is itself a JSON object holding the payload under the single-space key " ".
// Go field names map onto the short wire names through struct tags.
package jsoncommand

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	perrors "github.com/pkg/errors"
	"github.com/star371/netsession/pkg/command"
	neterrors "github.com/star371/netsession/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const contentKey = " "

var Codec = command.Codec{
	Kind:  command.KindJson,
	Build: Build,
	Parse: Parse,
}

// Text is content that is already in its wire form and is sent unchanged.
type Text string

type coreData struct {
	Type    int32  `json:"type"`
	Content string `json:"content"`
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
	var envelope coreData
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, perrors.Wrap(err, "parse json command envelope")
	}
	return New(command.Code(envelope.Type), Text(envelope.Content), req), nil
}

func (c *Command) Kind() command.Kind {
	return command.KindJson
}

func (c *Command) HeaderContentType() string {
	return command.ContentTypeJson
}

// Text returns the content in wire form.
func (c *Command) Text() (Text, error) {
	return contentText(c.Content())
}

func (c *Command) Serialize() ([]byte, error) {
	text, err := c.Text()
	if err != nil {
		return nil, err
	}
	return json.Marshal(coreData{
		Type:    c.Type().Code(),
		Content: string(text),
	})
}

func (c *Command) Parse(target any) error {
	text, err := c.Text()
	if err != nil {
		return err
	}
	return Unwrap(text, target)
}

func (c *Command) Reverse(e *command.Error) (command.Command, bool) {
	if e == nil {
		return nil, false
	}
	return New(c.Type(), e, c), true
}

func (c *Command) Failure() (*command.Error, error) {
	e := &command.Error{}
	if err := c.Parse(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Wrap produces the content text for a payload.
func Wrap(payload any) (Text, error) {
	data, err := json.Marshal(map[string]any{contentKey: payload})
	if err != nil {
		return "", err
	}
	return Text(data), nil
}

// Unwrap decodes the payload held in content text into target. Text that is
// not wrapped under the payload key is decoded as a whole.
func Unwrap(text Text, target any) error {
	if len(text) == 0 {
		return &neterrors.UnexpectedContent{
			CommandKind: command.KindJson.String(),
			ContentType: "empty text",
		}
	}

	raw, err := unwrapRaw([]byte(text))
	if err != nil {
		return perrors.Wrapf(err, "parse %s", schemaName(target))
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return perrors.Wrapf(err, "parse %s", schemaName(target))
	}
	return nil
}

func unwrapRaw(data []byte) (jsoniter.RawMessage, error) {
	var wrapped map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		// arrays and scalars are never wrapped
		if !json.Valid(data) {
			return nil, err
		}
		return data, nil
	}
	if raw, has := wrapped[contentKey]; has && len(raw) > 0 && string(raw) != "null" {
		return raw, nil
	}
	return data, nil
}

func contentText(content any) (Text, error) {
	switch c := content.(type) {
	case nil:
		return "", nil
	case Text:
		return c, nil
	case []byte:
		return Text(c), nil
	}
	return Wrap(content)
}

func schemaName(target any) string {
	return fmt.Sprintf("%T", target)
}
