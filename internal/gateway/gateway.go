// Package gateway serves the websocket push channel that browser clients
// use to follow their conversation list and the open thread.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/identity"
	"github.com/matheus3301/courier/internal/messaging"
	"github.com/matheus3301/courier/internal/status"
	"github.com/matheus3301/courier/internal/view"
	"go.uber.org/zap"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients are local; the identity header is the only gate.
		return true
	},
}

// Gateway routes websocket sessions to the messaging service.
type Gateway struct {
	svc     *messaging.Service
	dir     *identity.Directory
	machine *status.Machine
	logger  *zap.Logger
	timeout time.Duration

	mu    sync.Mutex
	conns map[string]*Connection
}

// New creates a gateway.
func New(svc *messaging.Service, dir *identity.Directory, machine *status.Machine, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		svc:     svc,
		dir:     dir,
		machine: machine,
		logger:  logger,
		timeout: 10 * time.Second,
		conns:   make(map[string]*Connection),
	}
}

// CloseAll disconnects every websocket client.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Connections returns the number of open websocket clients.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

func (g *Gateway) track(c *Connection) {
	g.mu.Lock()
	g.conns[c.ID] = c
	g.mu.Unlock()
}

func (g *Gateway) untrack(c *Connection) {
	g.mu.Lock()
	delete(g.conns, c.ID)
	g.mu.Unlock()
}

// Router returns the HTTP handler with /healthz and /ws.
func (g *Gateway) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), g.accessLog())
	r.GET("/healthz", g.health)
	r.GET("/ws", g.handleWS)
	return r
}

func (g *Gateway) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		g.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (g *Gateway) health(c *gin.Context) {
	state := status.Booting
	var reason string
	if g.machine != nil {
		state, _, reason = g.machine.Snapshot()
	}
	code := http.StatusOK
	if state != status.Ready && state != status.Degraded {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": state, "message": reason})
}

func (g *Gateway) handleWS(c *gin.Context) {
	userID, ok := identity.FromRequest(c.Request)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + identity.HeaderName + " header or user query parameter"})
		return
	}

	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	conn := NewConnection(userID, ws)
	conn.Start()
	g.track(conn)
	defer func() {
		g.untrack(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	log := g.logger.With(zap.String("user", userID), zap.String("conn", conn.ID))
	log.Info("websocket connected")
	defer log.Info("websocket disconnected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sctx, scancel := context.WithTimeout(ctx, g.timeout)
	sess, err := view.NewSession(sctx, userID, g.svc, &frameWriter{conn: conn, dir: g.dir})
	scancel()
	if err != nil {
		g.replyError(conn, "connect", err)
		return
	}
	defer sess.Close()

	ws.SetReadLimit(64 << 10)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, net.ErrClosed) {
				log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			g.replyError(conn, "", &messaging.Error{Kind: messaging.KindValidation, Op: "decode", Err: err})
			continue
		}

		fctx, fcancel := context.WithTimeout(ctx, g.timeout)
		if err := g.dispatch(fctx, conn, sess, frame); err != nil {
			g.replyError(conn, frame.Type, err)
		}
		fcancel()
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Connection, sess *view.Session, frame inboundFrame) error {
	switch frame.Type {
	case frameOpen:
		return sess.Open(ctx, frame.ConversationID)
	case frameBack:
		return sess.Back(ctx)
	case frameSend:
		msg, err := g.svc.SendMessage(ctx, frame.ConversationID, conn.UserID, frame.Content)
		if err != nil {
			return err
		}
		m := api.MessageFrom(*msg)
		return conn.sendFrame(outboundFrame{Type: frameSent, ConversationID: msg.ConversationID, Message: &m})
	case frameStart:
		conv, err := g.svc.CreateOrGetConversation(ctx, conn.UserID, frame.PeerID)
		if err != nil {
			return err
		}
		wc := api.ConversationFrom(conv)
		return conn.sendFrame(outboundFrame{Type: frameConversation, ConversationID: conv.ID, Conversation: &wc})
	}
	return &messaging.Error{Kind: messaging.KindValidation, Op: "dispatch", Err: errors.New("unknown frame type " + frame.Type)}
}

func (g *Gateway) replyError(conn *Connection, request string, err error) {
	kind := messaging.KindOf(err)
	if kind == messaging.KindInternal {
		// Errors from the view state machine are caller mistakes.
		var me *messaging.Error
		if !errors.As(err, &me) {
			kind = messaging.KindConflict
		}
	}
	_ = conn.sendFrame(outboundFrame{
		Type:    frameError,
		Request: request,
		Code:    string(kind),
		Error:   err.Error(),
	})
}

// Server runs the gateway HTTP server.
type Server struct {
	http    *http.Server
	gateway *Gateway
	addr    string
	logger  *zap.Logger
}

// NewServer binds the gateway router to addr.
func NewServer(addr string, g *Gateway, logger *zap.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           g.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		gateway: g,
		addr:    addr,
		logger:  logger,
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("gateway listening", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down and disconnects websocket clients, which
// Shutdown does not track once hijacked.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("gateway stopping")
	err := s.http.Shutdown(ctx)
	s.gateway.CloseAll()
	return err
}
