package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/courier/internal/cache"
	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/hub"
	"github.com/matheus3301/courier/internal/identity"
	"github.com/matheus3301/courier/internal/index"
	"github.com/matheus3301/courier/internal/messaging"
	"github.com/matheus3301/courier/internal/status"
	"github.com/matheus3301/courier/internal/store"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	svc     *messaging.Service
	gw      *Gateway
	machine *status.Machine
	srv     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := hub.New(0, nil)
	t.Cleanup(h.Close)
	svc := messaging.New(db, index.New(db, cache.NewMemory(), 0, nil), h, messaging.Options{}, nil)
	dir := identity.NewDirectory([]config.User{{ID: "alice", Name: "Alice"}})
	machine := status.NewMachine(nil)
	gw := New(svc, dir, machine, nil)

	srv := httptest.NewServer(gw.Router())
	t.Cleanup(func() {
		gw.CloseAll()
		srv.Close()
	})
	return &fixture{svc: svc, gw: gw, machine: machine, srv: srv}
}

func (f *fixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(identity.HeaderName, user)
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) outboundFrame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f outboundFrame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, ws *websocket.Conn, want string) outboundFrame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readFrame(t, ws); f.Type == want {
			return f
		}
	}
	t.Fatalf("no %q frame", want)
	return outboundFrame{}
}

func send(t *testing.T, ws *websocket.Conn, f inboundFrame) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(f))
}

func TestConnectSendsList(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendMessage(context.Background(), "alice~bob", "alice", "hello")
	require.NoError(t, err)

	ws := f.dial(t, "bob")
	first := readFrame(t, ws)
	require.Equal(t, frameSummaries, first.Type)
	require.Len(t, first.Summaries, 1)
	require.Equal(t, "Alice", first.Summaries[0].OtherName)
	require.Equal(t, 1, first.Summaries[0].UnreadCount)
}

func TestMissingIdentity(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/ws")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOpenStreamsThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SendMessage(ctx, "alice~bob", "alice", "are you there?")
	require.NoError(t, err)

	ws := f.dial(t, "bob")
	readUntil(t, ws, frameSummaries)

	send(t, ws, inboundFrame{Type: frameOpen, ConversationID: "alice~bob"})
	state := readUntil(t, ws, frameState)
	require.Equal(t, "THREAD_VIEW", state.State)
	require.Equal(t, "LIST_VIEW", state.From)

	thread := readUntil(t, ws, frameMessages)
	require.Equal(t, "alice~bob", thread.ConversationID)
	require.Len(t, thread.Messages, 1)
	require.True(t, thread.Messages[0].Read, "opening a thread marks it read")

	_, err = f.svc.SendMessage(ctx, "alice~bob", "alice", "new one")
	require.NoError(t, err)
	live := readUntil(t, ws, frameMessageAppended)
	require.Equal(t, "new one", live.Message.Content)

	send(t, ws, inboundFrame{Type: frameBack})
	back := readUntil(t, ws, frameState)
	require.Equal(t, "LIST_VIEW", back.State)
	list := readUntil(t, ws, frameSummaries)
	require.Len(t, list.Summaries, 1)
}

func TestStartAndSend(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "bob")
	readUntil(t, ws, frameSummaries)

	send(t, ws, inboundFrame{Type: frameStart, PeerID: "carol"})
	conv := readUntil(t, ws, frameConversation)
	require.Equal(t, "bob~carol", conv.ConversationID)
	require.Equal(t, []string{"bob", "carol"}, conv.Conversation.Participants)

	send(t, ws, inboundFrame{Type: frameSend, ConversationID: "bob~carol", Content: "hey carol"})
	sent := readUntil(t, ws, frameSent)
	require.Equal(t, "hey carol", sent.Message.Content)
	require.Equal(t, "bob", sent.Message.SenderID)

	msgs, err := f.svc.ListMessages(context.Background(), "bob~carol")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestErrorFrames(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrGetConversation(context.Background(), "alice", "carol")
	require.NoError(t, err)

	ws := f.dial(t, "bob")
	readUntil(t, ws, frameSummaries)

	tests := []struct {
		frame inboundFrame
		code  messaging.Kind
	}{
		{inboundFrame{Type: frameOpen, ConversationID: "alice~carol"}, messaging.KindForbidden},
		{inboundFrame{Type: frameSend, ConversationID: "alice~bob", Content: ""}, messaging.KindValidation},
		{inboundFrame{Type: frameBack}, messaging.KindConflict},
		{inboundFrame{Type: "dance"}, messaging.KindValidation},
	}
	for _, tt := range tests {
		send(t, ws, tt.frame)
		e := readUntil(t, ws, frameError)
		require.Equal(t, string(tt.code), e.Code, "frame %+v: %s", tt.frame, e.Error)
		require.Equal(t, tt.frame.Type, e.Request)
	}

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	e := readUntil(t, ws, frameError)
	require.Equal(t, string(messaging.KindValidation), e.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, f.machine.Transition(status.Ready, "ok"))
	resp, err = http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "READY", body["status"])
}

func TestCloseAllDisconnects(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t, "bob")
	readUntil(t, ws, frameSummaries)
	require.Eventually(t, func() bool { return f.gw.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.gw.CloseAll()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)
	require.Eventually(t, func() bool { return f.gw.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}
