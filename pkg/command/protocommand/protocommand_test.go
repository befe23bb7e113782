package protocommand

import (
	"testing"

	"github.com/star371/netsession/pkg/command"
	neterrors "github.com/star371/netsession/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestSerializeAndParseRoundTrip(t *testing.T) {
	req := Build(command.Code(17), wrapperspb.String("hello"))

	data, err := req.Serialize()
	require.NoError(t, err)

	resp, err := Parse(data, req)
	require.NoError(t, err)
	assert.Equal(t, command.Code(17), resp.Type())
	assert.Same(t, req, resp.ReqCommand())
	assert.Equal(t, command.KindBinary, resp.Kind())

	got := &wrapperspb.StringValue{}
	require.NoError(t, resp.Parse(got))
	assert.Equal(t, "hello", got.GetValue())
}

func TestNegativeTypeSurvivesEnvelope(t *testing.T) {
	data, err := Build(command.Code(-3), nil).Serialize()
	require.NoError(t, err)

	resp, err := Parse(data, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(-3), resp.Type().Code())
}

func TestEmptyContentKeepsContentField(t *testing.T) {
	data, err := Build(command.Code(0), nil).Serialize()
	require.NoError(t, err)
	// tag(1) varint(0) tag(2) len(0)
	assert.Equal(t, []byte{0x08, 0x00, 0x12, 0x00}, data)

	resp, err := Parse(data, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, resp.Content())
}

func TestStructuredContent(t *testing.T) {
	content, err := structpb.NewStruct(map[string]any{"a": 1.0, "b": "two"})
	require.NoError(t, err)

	data, err := Build(command.Code(5), content).Serialize()
	require.NoError(t, err)
	resp, err := Parse(data, nil)
	require.NoError(t, err)

	got := &structpb.Struct{}
	require.NoError(t, resp.Parse(got))
	assert.Equal(t, 1.0, got.AsMap()["a"])
	assert.Equal(t, "two", got.AsMap()["b"])
}

func TestReverse(t *testing.T) {
	req := Build(command.Code(9), wrapperspb.Int32(1))

	_, ok := req.Reverse(nil)
	assert.False(t, ok)

	rev, ok := req.Reverse(&command.Error{Type: 503, Message: "Service Unavailable"})
	require.True(t, ok)
	assert.Equal(t, req.Type(), rev.Type())

	data, err := rev.Serialize()
	require.NoError(t, err)
	resp, err := Parse(data, req)
	require.NoError(t, err)

	failure, err := resp.Failure()
	require.NoError(t, err)
	assert.Equal(t, int32(503), failure.Type)
	assert.Equal(t, "Service Unavailable", failure.Message)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte{0xff}, nil)
	assert.Error(t, err)

	_, err = Parse(nil, nil)
	var missing *neterrors.MissingFieldError
	assert.ErrorAs(t, err, &missing)
}

func TestParseTargetMustBeProtoMessage(t *testing.T) {
	cmd := Build(command.Code(1), []byte{})
	var target struct{}
	err := cmd.Parse(&target)
	var unexpected *neterrors.UnexpectedContent
	assert.ErrorAs(t, err, &unexpected)
}

func TestMark(t *testing.T) {
	cmd := Build(command.Code(1), nil)
	assert.False(t, cmd.Marked())
	cmd.Mark()
	cmd.Mark()
	assert.True(t, cmd.Marked())
}
