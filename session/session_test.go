package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/m-lab/go/testingx"
	"go.uber.org/goleak"
)

type result struct {
	s   *Session
	err error
}

// newServer starts a server that runs one Session per connection using ctx
// as the parent context. Run results are delivered on the returned channel.
func newServer(t *testing.T, ctx context.Context, config Config) (*httptest.Server, <-chan result) {
	results := make(chan result, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			results <- result{err: err}
			return
		}
		s := New(conn, "test-session", config)
		err = s.Run(ctx)
		results <- result{s: s, err: err}
	}))
	t.Cleanup(srv.Close)
	return srv, results
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	URL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(URL, nil)
	testingx.Must(t, err, "failed to dial %s", URL)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, in string) (int, string) {
	testingx.Must(t, conn.WriteMessage(websocket.TextMessage, []byte(in)), "failed to write")
	mtype, data, err := conn.ReadMessage()
	testingx.Must(t, err, "failed to read reply to %q", in)
	return mtype, string(data)
}

func waitResult(t *testing.T, results <-chan result) result {
	select {
	case r := <-results:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("session did not terminate")
	}
	return result{}
}

func TestSession_Protocol(t *testing.T) {
	srv, _ := newServer(t, context.Background(), DefaultConfig())
	conn := dial(t, srv)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "ping", in: `{"type":"ping","seq":42}`, want: `{"type":"pong","seq":42}`},
		{name: "ping-without-seq", in: `{"type":"ping"}`, want: `{"type":"ping"}`},
		{name: "not-json", in: `hello`, want: `hello`},
		{name: "other-type", in: `{"type":"stats","seq":1}`, want: `{"type":"stats","seq":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mtype, got := roundTrip(t, conn, tt.in)
			if mtype != websocket.TextMessage {
				t.Errorf("got message type %d, want text", mtype)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSession_PingYieldsOnlyPong(t *testing.T) {
	srv, _ := newServer(t, context.Background(), DefaultConfig())
	conn := dial(t, srv)
	if _, got := roundTrip(t, conn, `{"type":"ping","seq":42}`); got != `{"type":"pong","seq":42}` {
		t.Fatalf("got %q", got)
	}
	// If the ping had also been echoed, the echo would show up here.
	if _, got := roundTrip(t, conn, "marker"); got != "marker" {
		t.Errorf("got %q after the pong, want the marker", got)
	}
}

func TestSession_BinaryFramesAreNotEchoed(t *testing.T) {
	srv, _ := newServer(t, context.Background(), DefaultConfig())
	conn := dial(t, srv)
	for i := 0; i < 3; i++ {
		err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4096))
		testingx.Must(t, err, "failed to write binary frame")
	}
	mtype, got := roundTrip(t, conn, "after-binary")
	if mtype != websocket.TextMessage || got != "after-binary" {
		t.Errorf("got type %d payload %q", mtype, got)
	}
}

func TestSession_RepliesKeepRequestOrder(t *testing.T) {
	srv, _ := newServer(t, context.Background(), DefaultConfig())
	conn := dial(t, srv)
	const n = 100
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var in string
		if i%2 == 0 {
			in = fmt.Sprintf(`{"type":"ping","seq":%d}`, i)
			want = append(want, fmt.Sprintf(`{"type":"pong","seq":%d}`, i))
		} else {
			in = fmt.Sprintf("echo-%d", i)
			want = append(want, in)
		}
		testingx.Must(t, conn.WriteMessage(websocket.TextMessage, []byte(in)), "failed to write")
	}
	for i := 0; i < n; i++ {
		_, data, err := conn.ReadMessage()
		testingx.Must(t, err, "failed to read reply %d", i)
		if string(data) != want[i] {
			t.Fatalf("reply %d = %q, want %q", i, data, want[i])
		}
	}
}

func TestSession_PeerClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	srv, results := newServer(t, context.Background(), DefaultConfig())
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()
	roundTrip(t, conn, "hello")
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	testingx.Must(t, err, "failed to send close frame")
	r := waitResult(t, results)
	if r.err != nil {
		t.Errorf("Run() = %v, want nil after a clean close", r.err)
	}
	if r.s.State() != Closed {
		t.Errorf("State() = %v, want closed", r.s.State())
	}
}

func TestSession_ContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv, results := newServer(t, ctx, DefaultConfig())
	defer srv.Close()
	conn := dial(t, srv)
	defer conn.Close()
	roundTrip(t, conn, "hello")
	cancel()
	r := waitResult(t, results)
	if !errors.Is(r.err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", r.err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("the client connection is still usable")
	}
}

func TestSession_ReadLimit(t *testing.T) {
	config := DefaultConfig()
	config.MaxMessageSize = 16
	srv, results := newServer(t, context.Background(), config)
	conn := dial(t, srv)
	err := conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 1024)))
	testingx.Must(t, err, "failed to write")
	r := waitResult(t, results)
	if !errors.Is(r.err, websocket.ErrReadLimit) {
		t.Errorf("Run() = %v, want ErrReadLimit", r.err)
	}
}

func TestSession_IdleTimeout(t *testing.T) {
	config := DefaultConfig()
	config.IdleTimeout = 50 * time.Millisecond
	srv, results := newServer(t, context.Background(), config)
	dial(t, srv)
	r := waitResult(t, results)
	if r.err == nil {
		t.Error("Run() = nil, want a timeout error")
	}
	if r.s.State() != Closed {
		t.Errorf("State() = %v, want closed", r.s.State())
	}
}

func TestSession_Close(t *testing.T) {
	server, client := newConnPair(t)
	defer client.Close()
	s := New(server, "close", DefaultConfig())
	if s.State() != Open {
		t.Fatalf("State() = %v, want open", s.State())
	}
	s.Close()
	s.Close()
	if s.State() != Closed {
		t.Errorf("State() = %v, want closed", s.State())
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("Run() on a closed session = nil")
	}
}

// newConnPair returns the server and client side of an upgraded connection.
func newConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			close(conns)
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	client := dial(t, srv)
	server, ok := <-conns
	if !ok {
		t.Fatal("upgrade failed")
	}
	return server, client
}
