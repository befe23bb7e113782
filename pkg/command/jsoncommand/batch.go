package jsoncommand

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	perrors "github.com/pkg/errors"
	"github.com/star371/netsession/pkg/command"
)

const (
	DefaultMaxPieceLength = 512

	extendsKey = "extends"
)

// BatchTitle is one fragment of a payload split across several commands.
type BatchTitle struct {
	SerialNumber uint32 `json:"serialNumber"`
	Ended        bool   `json:"ended"`
	Data         string `json:"data"`
}

type batchTitleProbe struct {
	SerialNumber *uint32 `json:"serialNumber"`
	Ended        bool    `json:"ended"`
	Data         string  `json:"data"`
}

// isOlder reports whether serial number a was issued before b, allowing the
// 32-bit counter to wrap around.
func isOlder(a, b uint32) bool {
	return a-b > 0x80000000
}

// Receiver re-assembles payloads that a server split into BatchTitle
// fragments. Fragments are grouped by serial number; a fragment older than the
// batch in progress is dropped and a newer one abandons it.
type Receiver struct {
	serialNumber uint32
	receiving    bool
	data         []string
	extends      jsoniter.RawMessage
}

func (r *Receiver) Receiving() bool {
	return r.receiving
}

// Count is the number of fragments buffered for the batch in progress.
func (r *Receiver) Count() int {
	return len(r.data)
}

func (r *Receiver) SerialNumber() uint32 {
	return r.serialNumber
}

func (r *Receiver) Reset() {
	r.serialNumber = 0
	r.receiving = false
	r.data = nil
	r.extends = nil
}

// Extends decodes the item attached to the last completed batch. It reports
// false when the batch carried none.
func (r *Receiver) Extends(target any) (bool, error) {
	if len(r.extends) == 0 || string(r.extends) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(r.extends, target); err != nil {
		return false, perrors.Wrapf(err, "parse extends %s", schemaName(target))
	}
	return true, nil
}

// Receive feeds the content of cmd to the receiver. Once the final fragment
// arrives the joined payload is decoded into target and Receive returns true.
func (r *Receiver) Receive(cmd command.Command, target any) (bool, error) {
	text, err := contentText(cmd.Content())
	if err != nil {
		return false, err
	}
	return r.ReceiveText(text, target)
}

func (r *Receiver) ReceiveText(text Text, target any) (bool, error) {
	var top map[string]jsoniter.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return false, perrors.Wrapf(err, "parse %s", schemaName(target))
	}

	title, batched := readTitle(top)
	if !batched {
		// single packet without a serial number
		if err := Unwrap(text, target); err != nil {
			return false, err
		}
		return true, nil
	}

	r.receiving = true
	switch {
	case r.serialNumber == 0:
		r.serialNumber = title.SerialNumber
	case isOlder(title.SerialNumber, r.serialNumber):
		return false, nil
	case isOlder(r.serialNumber, title.SerialNumber):
		r.serialNumber = title.SerialNumber
		r.data = nil
		r.extends = nil
	}

	r.data = append(r.data, title.Data)
	if !title.Ended {
		return false, nil
	}

	r.extends = top[extendsKey]
	joined := strings.Join(r.data, "")
	r.data = nil
	r.receiving = false

	if err := Unwrap(Text(joined), target); err != nil {
		return false, perrors.Wrapf(err, "reassemble batch %d", title.SerialNumber)
	}
	return true, nil
}

func readTitle(top map[string]jsoniter.RawMessage) (BatchTitle, bool) {
	raw, has := top[contentKey]
	if !has {
		return BatchTitle{}, false
	}
	var probe batchTitleProbe
	if err := json.Unmarshal(raw, &probe); err != nil || probe.SerialNumber == nil {
		return BatchTitle{}, false
	}
	return BatchTitle{
		SerialNumber: *probe.SerialNumber,
		Ended:        probe.Ended,
		Data:         probe.Data,
	}, true
}

// SendFunc dispatches one command. session.Manager.SendCommand satisfies it.
type SendFunc func(typ command.Type, content any) bool

// Sender splits a payload into BatchTitle fragments of at most MaxPieceLength
// characters and sends each as its own command.
type Sender struct {
	Type           command.Type
	MaxPieceLength int

	send         SendFunc
	serialNumber uint32
}

func NewSender(typ command.Type, send SendFunc) *Sender {
	return &Sender{
		Type:           typ,
		MaxPieceLength: DefaultMaxPieceLength,
		send:           send,
	}
}

func (s *Sender) nextSerialNumber() uint32 {
	s.serialNumber++
	if s.serialNumber == 0 {
		s.serialNumber++
	}
	return s.serialNumber
}

// Send splits items into fragments and dispatches them in order. The extends
// item, when not nil, rides on the final fragment. It returns the number of
// fragments dispatched.
func (s *Sender) Send(items any, extends any) (int, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return 0, perrors.Wrapf(err, "marshal batch %s", schemaName(items))
	}

	pieceLength := s.MaxPieceLength
	if pieceLength <= 0 {
		pieceLength = DefaultMaxPieceLength
	}

	serialNumber := s.nextSerialNumber()
	runes := []rune(string(payload))
	sent := 0
	for start := 0; start < len(runes); start += pieceLength {
		end := start + pieceLength
		ended := end >= len(runes)
		if ended {
			end = len(runes)
		}

		piece := map[string]any{
			contentKey: BatchTitle{
				SerialNumber: serialNumber,
				Ended:        ended,
				Data:         string(runes[start:end]),
			},
		}
		if ended && extends != nil {
			piece[extendsKey] = extends
		}

		text, err := json.Marshal(piece)
		if err != nil {
			return sent, perrors.Wrapf(err, "marshal batch %d piece", serialNumber)
		}
		if !s.send(s.Type, Text(text)) {
			return sent, perrors.Errorf("batch %d piece %d was not dispatched", serialNumber, sent)
		}
		sent++
	}
	return sent, nil
}
