package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/star371/netsession/pkg/command"
	"github.com/star371/netsession/pkg/command/protocommand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer answers every binary message with the same bytes and reports the
// close code of the client close frame, if one arrives.
func echoServer(t *testing.T) (string, <-chan int) {
	t.Helper()
	closes := make(chan int, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					closes <- closeErr.Code
				}
				return
			}
			if err := conn.WriteMessage(kind, payload); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return ConvertHttpToWS(srv.URL), closes
}

func openSocket(t *testing.T, url string, cb *recorder) *Socket {
	t.Helper()
	s := NewSocket(url, cb, Params{CloseGracePeriod: time.Second})
	t.Cleanup(s.Dispose)

	require.True(t, s.Connect())
	assert.False(t, s.Connect())
	pumpUntil(t, s, func() bool { return cb.opens == 1 })
	require.Equal(t, StatusOpened, s.Status())
	return s
}

func TestSocketEcho(t *testing.T) {
	url, _ := echoServer(t)
	cb := newRecorder()
	s := openSocket(t, url, cb)

	req := protocommand.Build(command.Code(12), nil)
	require.True(t, s.SendCommand(req))
	pumpUntil(t, s, func() bool { return len(cb.messages) == 1 })

	expected, err := req.Serialize()
	require.NoError(t, err)
	assert.Equal(t, expected, cb.messages[0].data)
	assert.Nil(t, cb.messages[0].req)

	resp, err := protocommand.Parse(cb.messages[0].data, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(12), resp.Type().Code())
}

func TestSocketCloseShiftsCodeOnTheWire(t *testing.T) {
	url, serverCloses := echoServer(t)
	cb := newRecorder()
	s := openSocket(t, url, cb)

	require.True(t, s.Close(5))
	assert.Equal(t, StatusClosing, s.Status())
	assert.Equal(t, 5, s.CloseCode())
	assert.False(t, s.Close(5))
	assert.False(t, s.SendCommand(protocommand.Build(command.Code(1), nil)))

	select {
	case code := <-serverCloses:
		assert.Equal(t, 3005, code)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server never saw a close frame")
	}

	pumpUntil(t, s, func() bool { return len(cb.closes) == 1 })
	assert.Equal(t, []int{5}, cb.closes)
	assert.Equal(t, 5, s.CloseCode())
	assert.Equal(t, StatusClosed, s.Status())
	assert.Empty(t, cb.errors)
}

func TestSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := ConvertHttpToWS(srv.URL)
	srv.Close()

	cb := newRecorder()
	s := NewSocket(url, cb, Params{})
	defer s.Dispose()

	require.True(t, s.Connect())
	pumpUntil(t, s, func() bool { return len(cb.closes) == 1 })

	assert.Len(t, cb.errors, 1)
	assert.Equal(t, []int{websocket.CloseAbnormalClosure}, cb.closes)
	assert.Equal(t, 0, cb.opens)
	assert.Error(t, s.SocketError())
	assert.Equal(t, StatusClosed, s.Status())
	assert.False(t, s.Connect())
}

func TestSocketDisposeStopsEvents(t *testing.T) {
	url, _ := echoServer(t)
	cb := newRecorder()
	s := openSocket(t, url, cb)

	require.True(t, s.SendCommand(protocommand.Build(command.Code(1), nil)))
	s.Dispose()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, s.Pump())
	assert.Empty(t, cb.messages)
	assert.Empty(t, cb.closes)
}

func TestSocketPeerCloseKeepsPeerCode(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(4100, "kicked"), time.Now().Add(time.Second))
		conn.ReadMessage()
	}))
	defer srv.Close()

	cb := newRecorder()
	s := openSocket(t, ConvertHttpToWS(srv.URL), cb)
	pumpUntil(t, s, func() bool { return len(cb.closes) == 1 })
	assert.Equal(t, []int{4100}, cb.closes)
	assert.Equal(t, 4100, s.CloseCode())
}
