package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dbtmcp/dbt-mcp/internal/config"
	"github.com/dbtmcp/dbt-mcp/internal/cron"
	"github.com/dbtmcp/dbt-mcp/internal/tool"
)

const auditJob = "tool-drift-audit"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves the tool set selected by the configured policy.
type Server struct {
	Tools  *tool.Registry
	Conns  *ConnManager
	Audits *cron.Scheduler

	applyMu sync.Mutex // serializes ApplyConfig
	mu      sync.RWMutex
	cfg     *config.Config
	policy  *tool.Policy
	httpSrv *http.Server
	startAt time.Time
}

// NewServer builds the policy from cfg and registers the enabled tools.
func NewServer(cfg *config.Config) (*Server, error) {
	s := &Server{
		Tools:   tool.NewRegistry(),
		Conns:   NewConnManager(),
		Audits:  cron.NewScheduler(),
		startAt: time.Now(),
	}
	if err := s.ApplyConfig(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyConfig rebuilds the policy from cfg, syncs the served tools and
// notifies connected clients of any change. cfg is checked in full before
// anything is applied; on error the previous config stays in effect.
func (s *Server) ApplyConfig(cfg *config.Config) error {
	policy, err := config.Policy(cfg)
	if err != nil {
		return fmt.Errorf("tool policy: %w", err)
	}
	schedule := cfg.Server.AuditSchedule
	if schedule != "" {
		if err := cron.ValidateSchedule(schedule); err != nil {
			return fmt.Errorf("audit schedule: %w", err)
		}
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	s.cfg = cfg
	s.policy = policy
	s.mu.Unlock()

	if schedule != "" {
		if err := s.Audits.Add(auditJob, schedule, s.audit); err != nil {
			return err
		}
	} else {
		s.Audits.Remove(auditJob)
	}

	added, removed := s.Tools.Sync(policy)
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}
	slog.Info("served tools changed", "added", len(added), "removed", len(removed), "total", s.Tools.Count())
	s.Conns.Broadcast(EventToolsListChanged, ToolsChangedPayload{
		Added:   nameStrings(added),
		Removed: nameStrings(removed),
	})
	return nil
}

// Reload is a config.RegisterOnReload callback.
func (s *Server) Reload(cfg *config.Config) {
	if err := s.ApplyConfig(cfg); err != nil {
		slog.Warn("config reload rejected", "error", err)
	}
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Policy returns the policy currently in effect.
func (s *Server) Policy() *tool.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// audit verifies that the served tools still match the policy.
func (s *Server) audit(_ context.Context) error {
	err := s.Tools.Validate(s.Policy())
	var drift *tool.DriftError
	if errors.As(err, &drift) {
		slog.Warn("served tools drifted from policy", "missing", drift.Missing, "extra", drift.Extra)
		s.Conns.Broadcast(EventToolsDrift, drift.Drift)
	}
	return err
}

// Handler builds the gin engine with all routes.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/health", s.ginHealth)
	engine.GET("/ws", s.ginWebSocket)
	s.registerAPIRoutes(engine)
	return engine
}

// Start begins listening for connections.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config()
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: s.Handler(),
	}

	s.Audits.Start()
	slog.Info("dbt-mcp gateway starting", "port", cfg.Server.Port, "tools", s.Tools.Count())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Audits.Stop(shutdownCtx)
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("gateway shutdown", "error", err)
		}
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) ginHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startAt).String(),
		"tools":   s.Tools.Count(),
		"clients": s.Conns.Count(),
	})
}

func (s *Server) ginWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	connID := fmt.Sprintf("conn_%d", time.Now().UnixNano())
	conn := &Conn{
		ID:          connID,
		WS:          ws,
		ConnectedAt: time.Now(),
	}

	// First message must be a connect request
	frame, err := ReadFrame(ws)
	if err != nil {
		slog.Warn("failed to read connect frame", "error", err)
		return
	}
	if frame.Method != MethodConnect {
		conn.Send(ResErr(frame.ID, "HANDSHAKE_REQUIRED", "first message must be a connect request"))
		return
	}

	var connectParams ConnectParams
	if err := json.Unmarshal(frame.Params, &connectParams); err != nil {
		conn.Send(ResErr(frame.ID, "INVALID_PARAMS", "invalid connect params"))
		return
	}
	if !s.authenticate(connectParams.Token) {
		conn.Send(ResErr(frame.ID, "AUTH_FAILED", "invalid token"))
		return
	}

	// Send hello-ok before joining broadcasts so it is always the first response.
	conn.Send(ResOK(frame.ID, map[string]any{
		"connId":   connID,
		"protocol": 1,
	}))
	s.Conns.Add(conn)
	defer s.Conns.Remove(connID)

	slog.Info("connection established", "id", connID)

	for {
		frame, err := ReadFrame(ws)
		if err != nil {
			slog.Debug("connection closed", "id", connID, "error", err)
			return
		}
		if frame.Type != "req" {
			continue
		}
		switch frame.Method {
		case MethodToolsList:
			conn.Send(ResOK(frame.ID, toolViews(s.Tools.List())))
		default:
			conn.Send(ResErr(frame.ID, "UNKNOWN_METHOD", "only tools.list is supported over WebSocket; use HTTP /api for the rest"))
		}
	}
}

func (s *Server) authenticate(token string) bool {
	expected := s.config().Server.Auth.Token
	if expected == "" {
		return true // no auth configured
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func nameStrings(names []tool.Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = n.String()
	}
	return out
}
