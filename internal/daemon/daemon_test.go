package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/cache"
	"github.com/matheus3301/courier/internal/client"
	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/hub"
	"github.com/matheus3301/courier/internal/identity"
	"github.com/matheus3301/courier/internal/index"
	"github.com/matheus3301/courier/internal/lock"
	"github.com/matheus3301/courier/internal/messaging"
	"github.com/matheus3301/courier/internal/status"
	"github.com/matheus3301/courier/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "courier-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")

	// Acquire lock.
	lk, err := lock.Acquire(tmpDir, socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	// Open store.
	db, err := store.Open(filepath.Join(tmpDir, "courier.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	// Setup components.
	logger, _ := zap.NewDevelopment()
	h := hub.New(0, logger)
	defer h.Close()
	svc := messaging.New(db, index.New(db, cache.NewMemory(), 0, logger), h, messaging.Options{}, logger)
	machine := status.NewMachine(logger)

	grpcSrv := grpc.NewServer()
	api.RegisterMessagingServer(grpcSrv, api.NewServer(svc, identity.Metadata{}, identity.NewDirectory(nil), machine, logger))

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = grpcSrv.Serve(listener) }()
	defer grpcSrv.GracefulStop()

	time.Sleep(50 * time.Millisecond)

	// Connect as client.
	c, err := client.New(socketPath, "u1")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	resp, err := c.Messaging.GetStatus(ctx, &api.GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if resp.Status != string(status.Booting) {
		t.Errorf("status = %v, want BOOTING", resp.Status)
	}

	list, err := c.Messaging.ListConversations(ctx, &api.ListConversationsRequest{})
	if err != nil {
		t.Fatalf("ListConversations error = %v", err)
	}
	if len(list.Summaries) != 0 {
		t.Errorf("expected 0 conversations, got %d", len(list.Summaries))
	}

	conv, err := c.Messaging.CreateConversation(ctx, &api.CreateConversationRequest{PeerID: "u2"})
	if err != nil {
		t.Fatalf("CreateConversation error = %v", err)
	}
	if _, err := c.Messaging.SendMessage(ctx, &api.SendMessageRequest{ConversationID: conv.Conversation.ID, Content: "hello world"}); err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}

	msgs, err := c.Messaging.ListMessages(ctx, &api.ListMessagesRequest{ConversationID: conv.Conversation.ID})
	if err != nil {
		t.Fatalf("ListMessages error = %v", err)
	}
	if len(msgs.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs.Messages))
	}

	list, err = c.Messaging.ListConversations(ctx, &api.ListConversationsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Summaries) != 1 || list.Summaries[0].LastMessagePreview != "hello world" {
		t.Errorf("summaries = %+v", list.Summaries)
	}

	logger.Info("integration test passed")
}

// TestNewServerUsesLayoutSocket verifies the socket lands where the layout
// says. Regression test: NewServer previously took a bare `string` param
// which fx cannot resolve, causing a silent startup crash ("missing type:
// string").
func TestNewServerUsesLayoutSocket(t *testing.T) {
	// Use /tmp for short socket paths (macOS 104-char limit).
	tmpDir, err := os.MkdirTemp("/tmp", "courier-srv-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	// A stale socket from a crashed daemon must not block startup.
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Layout{DataDir: tmpDir, Socket: socketPath}, config.Default(), zap.NewNop(), api.NewServer(nil, identity.Metadata{}, nil, nil, nil))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	info, statErr := os.Stat(socketPath)
	if statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Errorf("%s is not a socket", socketPath)
	}

	srv.Stop(context.Background())
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("Stop() should remove the socket file")
	}
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.Default()
	cfg.LogLevel = "warn"
	cfg.Users = []config.User{{ID: "u1", Name: "Ada"}}
	path := filepath.Join(dir, "config.toml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestFxModuleWiring verifies the fx dependency graph resolves and the
// daemon serves requests end to end.
func TestFxModuleWiring(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "courier-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	p := Params{
		ConfigPath: writeConfig(t, tmpDir),
		DataDir:    filepath.Join(tmpDir, "data"),
		SocketPath: filepath.Join(tmpDir, "d.sock"),
		HTTPAddr:   "127.0.0.1:0",
	}
	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx graph: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = app.Stop(ctx) }()

	c, err := client.New(p.SocketPath, "u2")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.Messaging.GetStatus(ctx, &api.GetStatusRequest{})
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if resp.Status != string(status.Ready) {
		t.Errorf("status = %s (%s), want READY after start", resp.Status, resp.StatusMessage)
	}

	if _, err := c.Messaging.SendMessage(ctx, &api.SendMessageRequest{ConversationID: "u1~u2", Content: "hi Ada"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	list, err := c.Messaging.ListConversations(ctx, &api.ListConversationsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Summaries) != 1 || list.Summaries[0].OtherName != "Ada" {
		t.Errorf("summaries = %+v, want one conversation with Ada", list.Summaries)
	}

	if _, err := os.Stat(filepath.Join(p.DataDir, "courier.db")); err != nil {
		t.Errorf("database not created in data dir: %v", err)
	}
}

// TestSecondDaemonRefused verifies the data directory lock keeps a second
// daemon from opening the same database.
func TestSecondDaemonRefused(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "courier-lk-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	cfgPath := writeConfig(t, tmpDir)
	dataDir := filepath.Join(tmpDir, "data")

	first := fx.New(Module(Params{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		SocketPath: filepath.Join(tmpDir, "a.sock"),
		HTTPAddr:   "off",
	}), fx.NopLogger)
	if err := first.Err(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = first.Stop(ctx) }()

	second := fx.New(Module(Params{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		SocketPath: filepath.Join(tmpDir, "b.sock"),
		HTTPAddr:   "off",
	}), fx.NopLogger)
	err = second.Err()
	if err == nil {
		_ = second.Stop(ctx)
		t.Fatal("second daemon on the same data dir should fail")
	}
	if !strings.Contains(err.Error(), "locked") {
		t.Errorf("err = %v, want lock error", err)
	}
}

func TestMissingExplicitConfig(t *testing.T) {
	if _, err := provideConfig(Params{ConfigPath: "/nonexistent/courier.toml"}); err == nil {
		t.Error("an explicit --config that does not exist should fail")
	}
}
