package jsoncommand

import (
	"strings"
	"testing"

	"github.com/star371/netsession/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

func piece(t *testing.T, serial uint32, ended bool, data string) command.Command {
	t.Helper()
	text, err := Wrap(BatchTitle{SerialNumber: serial, Ended: ended, Data: data})
	require.NoError(t, err)
	return New(command.Code(1), text, nil)
}

func TestReceiverReassemblesFragments(t *testing.T) {
	r := &Receiver{}
	var got pair

	done, err := r.Receive(piece(t, 5, false, `{"a":1,`), &got)
	require.NoError(t, err)
	assert.False(t, done)
	assert.True(t, r.Receiving())
	assert.Equal(t, 1, r.Count())

	done, err = r.Receive(piece(t, 5, true, `"b":2}`), &got)
	require.NoError(t, err)
	assert.True(t, done)
	assert.False(t, r.Receiving())
	assert.Equal(t, pair{A: 1, B: 2}, got)
	assert.Equal(t, 0, r.Count())
}

func TestReceiverDropsOlderSerial(t *testing.T) {
	r := &Receiver{}
	var got pair

	_, err := r.Receive(piece(t, 5, false, `{"a":1,`), &got)
	require.NoError(t, err)

	done, err := r.Receive(piece(t, 4, true, `"b":9}`), &got)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, uint32(5), r.SerialNumber())
}

func TestReceiverNewerSerialRestarts(t *testing.T) {
	r := &Receiver{}
	var got pair

	_, err := r.Receive(piece(t, 5, false, `{"a":1,`), &got)
	require.NoError(t, err)

	done, err := r.Receive(piece(t, 6, true, `{"a":3,"b":4}`), &got)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, pair{A: 3, B: 4}, got)
}

func TestReceiverSerialWraparound(t *testing.T) {
	assert.True(t, isOlder(4, 5))
	assert.False(t, isOlder(5, 4))
	assert.False(t, isOlder(1, 0xFFFFFFFF))
	assert.True(t, isOlder(0xFFFFFFFF, 1))

	r := &Receiver{}
	var got pair
	_, err := r.Receive(piece(t, 0xFFFFFFFF, false, `{"a":1,`), &got)
	require.NoError(t, err)

	done, err := r.Receive(piece(t, 1, true, `{"a":7,"b":8}`), &got)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, pair{A: 7, B: 8}, got)
}

func TestReceiverAcceptsSinglePacket(t *testing.T) {
	r := &Receiver{}
	text, err := Wrap(pair{A: 1, B: 2})
	require.NoError(t, err)

	var got pair
	done, err := r.ReceiveText(text, &got)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, pair{A: 1, B: 2}, got)
}

func TestReceiverReportsSchemaOnBadPayload(t *testing.T) {
	r := &Receiver{}
	var got pair
	done, err := r.Receive(piece(t, 2, true, `{"a":`), &got)
	assert.False(t, done)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "*jsoncommand.pair")
	assert.Equal(t, 0, r.Count())
}

func TestSenderSplitsAndReceiverJoins(t *testing.T) {
	items := make([]pair, 100)
	for i := range items {
		items[i] = pair{A: i, B: i * 2}
	}

	var sent []command.Command
	sender := NewSender(command.Code(33), func(typ command.Type, content any) bool {
		sent = append(sent, Build(typ, content))
		return true
	})
	sender.MaxPieceLength = 64

	count, err := sender.Send(items, map[string]string{"page": "1"})
	require.NoError(t, err)
	assert.Equal(t, len(sent), count)
	assert.Greater(t, count, 1)

	r := &Receiver{}
	var got []pair
	for i, cmd := range sent {
		assert.Equal(t, command.Code(33), cmd.Type())

		// each piece goes through the wire form
		data, err := cmd.Serialize()
		require.NoError(t, err)
		parsed, err := Parse(data, nil)
		require.NoError(t, err)

		done, err := r.Receive(parsed, &got)
		require.NoError(t, err)
		assert.Equal(t, i == len(sent)-1, done)
	}
	assert.Equal(t, items, got)

	var ext map[string]string
	has, err := r.Extends(&ext)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, "1", ext["page"])
}

func TestSenderAdvancesSerialNumber(t *testing.T) {
	var texts []string
	sender := NewSender(command.Code(1), func(typ command.Type, content any) bool {
		texts = append(texts, string(content.(Text)))
		return true
	})

	_, err := sender.Send([]int{1}, nil)
	require.NoError(t, err)
	_, err = sender.Send([]int{2}, nil)
	require.NoError(t, err)

	require.Len(t, texts, 2)
	assert.True(t, strings.Contains(texts[0], `"serialNumber":1`))
	assert.True(t, strings.Contains(texts[1], `"serialNumber":2`))
	assert.False(t, strings.Contains(texts[1], extendsKey))
}

func TestSenderStopsWhenDispatchFails(t *testing.T) {
	sender := NewSender(command.Code(1), func(command.Type, any) bool { return false })
	count, err := sender.Send([]int{1, 2, 3}, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, count)
}
