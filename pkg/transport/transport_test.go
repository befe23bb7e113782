package transport

import (
	"testing"
	"time"

	"github.com/star371/netsession/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	data []byte
	req  command.Command
}

type recorder struct {
	opens    int
	closes   []int
	errors   []error
	messages []message
	fails    []message
	timeouts []command.Command
	cmdErrs  []command.Command

	headers map[command.Command]*HeaderMap
	timeout time.Duration
}

func newRecorder() *recorder {
	return &recorder{
		headers: make(map[command.Command]*HeaderMap),
		timeout: 5 * time.Second,
	}
}

func (r *recorder) OnConnectionOpen()           { r.opens++ }
func (r *recorder) OnConnectionError(err error) { r.errors = append(r.errors, err) }
func (r *recorder) OnConnectionClose(code int)  { r.closes = append(r.closes, code) }

func (r *recorder) OnMessage(data []byte, req command.Command) {
	r.messages = append(r.messages, message{data: data, req: req})
}

func (r *recorder) OnMessageFail(data []byte, req command.Command) {
	r.fails = append(r.fails, message{data: data, req: req})
}

func (r *recorder) OnCommandTimeout(header *HeaderMap, req command.Command) {
	r.timeouts = append(r.timeouts, req)
}

func (r *recorder) OnCommandError(header *HeaderMap, req command.Command, err error) {
	r.cmdErrs = append(r.cmdErrs, req)
}

func (r *recorder) CustomRequestHeaderMap(cmd command.Command) *HeaderMap {
	if h, has := r.headers[cmd]; has {
		return h
	}
	return NewHeaderMap().Set(HeaderRetryCount, 0).Set(HeaderSerialNo, int64(77))
}

func (r *recorder) TimeoutTime() time.Duration { return r.timeout }

func pumpUntil(t *testing.T, tr Transport, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		tr.Pump()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "condition not reached before deadline")
}

func TestShiftCloseCode(t *testing.T) {
	cases := []struct {
		code     int
		expected int
	}{
		{code: 0, expected: 3000},
		{code: 5, expected: 3005},
		{code: 999, expected: 3999},
		{code: 1000, expected: 1000},
		{code: 1006, expected: 1006},
		{code: 3001, expected: 3001},
		{code: 4300, expected: 4300},
		{code: -1, expected: CloseCodeUnknownError},
	}

	for _, c := range cases {
		assert.Equal(t, c.expected, ShiftCloseCode(c.code), "code %d", c.code)
		assert.GreaterOrEqual(t, ShiftCloseCode(c.code), CloseCodeFloor)
	}
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "UNOPENED", StatusUnopened.String())
	assert.Equal(t, "OPENED", StatusOpened.String())
	assert.Equal(t, "CLOSING", StatusClosing.String())
	assert.Equal(t, "CLOSED", StatusClosed.String())
}

func TestNewPicksTransportByScheme(t *testing.T) {
	cb := newRecorder()
	assert.True(t, New("ws://127.0.0.1:1/ws", cb, Params{}).IsWebSocket())
	assert.True(t, New("wss://example.com/ws", cb, Params{}).IsWebSocket())
	assert.False(t, New("https://example.com/api", cb, Params{}).IsWebSocket())
	assert.False(t, New("http://example.com/api", cb, Params{}).IsWebSocket())
}

func TestHeaderMapKeepsInsertionOrder(t *testing.T) {
	h := NewHeaderMap().
		Set(HeaderRetryCount, 0).
		Set(HeaderSerialNo, int64(12)).
		Set(HeaderToken, "abc").
		Set(HeaderRetryCount, 2)

	var keys []string
	h.Range(func(key string, value any) bool {
		keys = append(keys, key)
		return true
	})
	assert.Equal(t, []string{HeaderRetryCount, HeaderSerialNo, HeaderToken}, keys)
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, 2, h.Retry())
	assert.Equal(t, int64(12), h.SerialNo())

	var nilMap *HeaderMap
	assert.Equal(t, 0, nilMap.Len())
	_, has := nilMap.Get(HeaderToken)
	assert.False(t, has)
}

func TestHeaderValue(t *testing.T) {
	assert.Equal(t, "abc", HeaderValue("abc"))
	assert.Equal(t, "3", HeaderValue(3))
	assert.Equal(t, "1700000000000", HeaderValue(int64(1700000000000)))
	assert.Equal(t, "true", HeaderValue(true))
	assert.Equal(t, `{"a":1}`, HeaderValue(map[string]int{"a": 1}))
}

func TestUrlHelpers(t *testing.T) {
	assert.True(t, IsSocketUrl("wss://game.example.com/ws"))
	assert.False(t, IsSocketUrl("https://game.example.com"))
	assert.True(t, IsHttpUrl("http://10.0.0.1:8080"))
	assert.True(t, IsIpDomain("10.0.0.1:8080/path"))
	assert.False(t, IsIpDomain("game.example.com"))

	assert.True(t, IsSecureUrl("wss://a"))
	assert.False(t, IsSecureUrl("http://a"))
	assert.True(t, IsSecureUrl("game.example.com"))
	assert.False(t, IsSecureUrl("10.0.0.1:8080"))

	assert.Equal(t, "wss://a/b", ConvertHttpToWS("https://a/b"))
	assert.Equal(t, "ws://a/b", ConvertHttpToWS("http://a/b"))
	assert.Equal(t, "https://a/b", ConvertWSToHttp("wss://a/b"))
	assert.Equal(t, "http://a/b", ConvertWSToHttp("ws://a/b"))

	assert.Equal(t, "https://", SelectProtocol(true, true))
	assert.Equal(t, "ws://", SelectProtocol(false, false))

	assert.Equal(t, "http://a/service/7", JoinUrl("http://a/", "/service/", "7"))
	assert.Equal(t, "http://a", JoinUrl("http://a", ""))
}
