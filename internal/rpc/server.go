package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/insoblok/inso-node/internal/chain"
	"github.com/insoblok/inso-node/internal/config"
	"github.com/insoblok/inso-node/internal/mempool"
)

// Server is the JSON-RPC HTTP and WebSocket server.
type Server struct {
	httpServer *http.Server
	wsServer   *http.Server
	handler    *Handler
	ws         *WSSubscriptionManager
	pool       *mempool.MemPool
	chain      *chain.Chain
	logger     log.Logger
	cfg        *config.RPCConfig
}

// NewServer creates a new RPC server.
func NewServer(cfg *config.RPCConfig, handler *Handler, pool *mempool.MemPool, ch *chain.Chain) *Server {
	return &Server{
		handler: handler,
		ws:      NewWSSubscriptionManager(handler),
		pool:    pool,
		chain:   ch,
		logger:  log.New("module", "rpc"),
		cfg:     cfg,
	}
}

// Start begins listening for JSON-RPC requests on HTTP and WebSocket.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTP)

	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", s.ws.HandleWS)

	s.wsServer = &http.Server{
		Addr:        s.cfg.WSAddr,
		Handler:     wsMux,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	httpLn, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	wsLn, err := net.Listen("tcp", s.cfg.WSAddr)
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("ws server: %w", err)
	}

	s.ws.Start(ctx, s.pool, s.chain)

	go func() {
		s.logger.Info("JSON-RPC HTTP server starting", "addr", httpLn.Addr())
		if err := s.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", "err", err)
		}
	}()
	go func() {
		s.logger.Info("JSON-RPC WebSocket server starting", "addr", wsLn.Addr())
		if err := s.wsServer.Serve(wsLn); err != nil && err != http.ErrServerClosed {
			s.logger.Error("WebSocket server failed", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down both servers.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down RPC servers")
	var err1, err2 error
	if s.httpServer != nil {
		err1 = s.httpServer.Shutdown(ctx)
	}
	if s.wsServer != nil {
		err2 = s.wsServer.Shutdown(ctx)
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// handleHTTP processes incoming JSON-RPC HTTP requests.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		s.writeError(w, nil, codeParseError, "parse error")
		return
	}
	defer r.Body.Close()

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, codeParseError, "parse error")
		return
	}

	resp := s.handler.Handle(r.Context(), &req)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	resp := &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: msg,
		},
	}
	json.NewEncoder(w).Encode(resp)
}
