package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"realtimesvc/internal/locks"
	"realtimesvc/internal/presence"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second // must be < pongWait
)

type Server struct {
	gateway  *Gateway
	router   *Router
	presence *presence.Tracker
	locks    *locks.Manager
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(g *Gateway, tracker *presence.Tracker, lockMgr *locks.Manager, log *zap.Logger) *Server {
	if log == nil {
		log = zap.L()
	}
	srv := &Server{
		gateway:  g,
		router:   NewRouter(),
		presence: tracker,
		locks:    lockMgr,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true }, // auth happens upstream
		},
	}
	srv.registerHandlers() // ← all WS endpoints configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *Server) Handle(ginCtx *gin.Context) {
	tenantID := ginCtx.Query("tenant_id")
	userID := ginCtx.Query("user_id")
	if tenantID == "" || userID == "" {
		ginCtx.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id and user_id are required"})
		return
	}

	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		s.log.Warn("ws.accept", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(4096)

	// ─────────────────── Client joined ────────────────────────
	conn := &clientConn{id: uuid.NewString(), rawConn: rawConn}
	if err := s.presence.Join(ginCtx.Request.Context(), tenantID, userID); err != nil {
		s.log.Warn("ws.presence_join", zap.Error(err))
	}

	go s.reader(tenantID, userID, conn)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *Server) registerHandlers() {
	// 🔹 rooms/join -----------------------------------------------------------
	Register(
		s.router,
		"rooms/join",
		func(ctx context.Context, cc *ConnContext, req RoomRequest) (AckBody, error) {
			if req.RoomID == "" {
				return AckBody{}, errInvalidRoom
			}
			s.gateway.Join(req.RoomID, cc.Conn)
			return AckBody{}, nil
		},
	)

	// 🔹 rooms/leave ----------------------------------------------------------
	Register(
		s.router,
		"rooms/leave",
		func(ctx context.Context, cc *ConnContext, req RoomRequest) (AckBody, error) {
			if req.RoomID == "" {
				return AckBody{}, errInvalidRoom
			}
			s.gateway.Leave(req.RoomID, cc.Conn)
			return AckBody{}, nil
		},
	)

	// 🔹 presence/heartbeat ---------------------------------------------------
	Register(
		s.router,
		"presence/heartbeat",
		func(ctx context.Context, cc *ConnContext, _ AckBody) (AckBody, error) {
			return AckBody{}, s.presence.Heartbeat(ctx, cc.TenantID, cc.UserID)
		},
	)

	// 🔹 locks/acquire --------------------------------------------------------
	Register(
		s.router,
		"locks/acquire",
		func(ctx context.Context, cc *ConnContext, req AcquireLockRequest) (AcquireLockResponse, error) {
			if req.DocumentID == "" {
				return AcquireLockResponse{}, errInvalidLockScope
			}
			token, ok, err := s.locks.Acquire(ctx, lockScope(req.DocumentID, req.ElementID),
				cc.UserID, time.Duration(req.TTLMs)*time.Millisecond)
			if err != nil {
				return AcquireLockResponse{}, err
			}
			return AcquireLockResponse{Acquired: ok, Token: token}, nil
		},
	)

	// 🔹 locks/renew ----------------------------------------------------------
	Register(
		s.router,
		"locks/renew",
		func(ctx context.Context, cc *ConnContext, req RenewLockRequest) (RenewLockResponse, error) {
			if req.DocumentID == "" || req.Token == "" {
				return RenewLockResponse{}, errInvalidLockScope
			}
			ok, err := s.locks.Renew(ctx, lockScope(req.DocumentID, req.ElementID),
				req.Token, time.Duration(req.TTLMs)*time.Millisecond)
			if err != nil {
				return RenewLockResponse{}, err
			}
			return RenewLockResponse{Renewed: ok}, nil
		},
	)

	// 🔹 locks/release --------------------------------------------------------
	Register(
		s.router,
		"locks/release",
		func(ctx context.Context, cc *ConnContext, req ReleaseLockRequest) (ReleaseLockResponse, error) {
			if req.DocumentID == "" || req.Token == "" {
				return ReleaseLockResponse{}, errInvalidLockScope
			}
			ok, err := s.locks.Release(ctx, lockScope(req.DocumentID, req.ElementID), req.Token)
			if err != nil {
				return ReleaseLockResponse{}, err
			}
			return ReleaseLockResponse{Released: ok}, nil
		},
	)
}

func lockScope(documentID, elementID string) string {
	if elementID != "" {
		return locks.ElementScope(documentID, elementID)
	}
	return locks.DocumentScope(documentID)
}

func (s *Server) reader(tenantID, userID string, conn *clientConn) {
	defer func() {
		s.gateway.LeaveAll(conn)
		if err := s.presence.Leave(context.Background(), tenantID, userID); err != nil {
			s.log.Warn("ws.presence_leave", zap.Error(err))
		}
		_ = conn.rawConn.Close()
	}()

	stopPinger := make(chan struct{})
	defer close(stopPinger)
	go s.pinger(conn, stopPinger)

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
		// A live socket counts as a heartbeat; explicit presence/heartbeat
		// frames just refresh earlier. A failed refresh must not kill the
		// socket, the next pong retries it anyway.
		if err := s.presence.Heartbeat(context.Background(), tenantID, userID); err != nil {
			s.log.Warn("ws.pong_heartbeat", zap.Error(err))
		}
		return nil
	})

	cc := &ConnContext{TenantID: tenantID, UserID: userID, Conn: conn, Server: s}

	for {
		var env Envelope
		if err := conn.rawConn.ReadJSON(&env); err != nil {
			return // client closed or errored
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1900*time.Millisecond)
		res, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{...}} ---------------
		if err != nil {
			_ = conn.writeJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Error: err.Error()},
			})
			continue
		}

		// ---- success -> {"event":"<evt>-ack", "body":{...}} --------
		reply := map[string]any{"event": env.Event + "-ack"}
		if res != nil {
			reply["body"] = res
		}
		_ = conn.writeJSON(reply)
	}
}

func (s *Server) pinger(conn *clientConn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = conn.rawConn.Close()
				return
			}
		}
	}
}
