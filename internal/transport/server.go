package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"league-platform/internal/protocol"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handler serves one league.v2 message type. It returns a response envelope
// or a remote error to put on the wire; it must not mutate shared state
// without its own synchronization.
type Handler func(ctx context.Context, env *protocol.Envelope) (*protocol.Envelope, *RemoteError)

// AuthFunc validates the auth token of an inbound envelope. A nil return
// admits the request.
type AuthFunc func(env *protocol.Envelope) *RemoteError

// Server is the inbound half of an agent: one gin engine exposing POST /mcp
// and GET /health.
type Server struct {
	engine *gin.Engine
	srv    *http.Server

	mu       sync.RWMutex
	handlers map[string]Handler
	auth     AuthFunc
	open     map[string]bool // tools exempt from auth (registration)
}

// NewServer builds an agent server with no handlers registered.
func NewServer() *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           86400 * time.Second,
	}))

	s := &Server{
		engine:   engine,
		handlers: make(map[string]Handler),
		open:     make(map[string]bool),
	}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.POST(MCPPath, s.handleMCP)

	return s
}

// Engine exposes the underlying gin engine so agents can add extra routes
// (the manager mounts its websocket feed here).
func (s *Server) Engine() *gin.Engine { return s.engine }

// Handler returns the server as an http.Handler, for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Register installs a handler for one tool name.
func (s *Server) Register(tool string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[tool] = h
}

// SetAuth installs the token check. Tools listed in exempt skip it;
// everything else fails UNAUTHENTICATED when the check rejects.
func (s *Server) SetAuth(fn AuthFunc, exempt ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = fn
	for _, tool := range exempt {
		s.open[tool] = true
	}
}

// Run serves until Shutdown is called.
func (s *Server) Run(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.engine}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleMCP(c *gin.Context) {
	var req rpcRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		writeRPCError(c, "", protocol.CodeInvalidRequest, "malformed JSON-RPC envelope")
		return
	}
	if req.JSONRPC != "2.0" || req.ID == "" || req.Method != "tools/call" {
		writeRPCError(c, req.ID, protocol.CodeInvalidRequest, "invalid JSON-RPC request")
		return
	}
	if req.Params.Arguments == nil {
		writeRPCError(c, req.ID, protocol.CodeInvalidParams, "missing arguments")
		return
	}

	env := req.Params.Arguments
	if env.Protocol != protocol.Version {
		writeRPCError(c, req.ID, protocol.CodeInvalidParams, "unsupported protocol: "+env.Protocol)
		return
	}

	s.mu.RLock()
	handler, known := s.handlers[req.Params.Name]
	auth := s.auth
	exempt := s.open[req.Params.Name]
	s.mu.RUnlock()

	if !known {
		writeRPCError(c, req.ID, protocol.CodeUnknownTool, "unknown tool: "+req.Params.Name)
		return
	}

	if auth != nil && !exempt {
		if rerr := auth(env); rerr != nil {
			log.Printf("[RPC] rejected %s from %s: %s", req.Params.Name, env.Sender, rerr.Message)
			writeRPCError(c, req.ID, rerr.Code, rerr.Message)
			return
		}
	}

	resp, rerr := handler(c.Request.Context(), env)
	if rerr != nil {
		writeRPCError(c, req.ID, rerr.Code, rerr.Message)
		return
	}

	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: resp})
}

func writeRPCError(c *gin.Context, id string, code int, message string) {
	c.JSON(http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RemoteError{Code: code, Message: message},
	})
}
