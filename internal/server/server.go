// Package server exposes an environment to a remote trainer over a
// WebSocket. Each message is a JSON request answered by one JSON response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"fitcats-env/internal/env"
	"fitcats-env/internal/input"
	"fitcats-env/internal/observe"
	"fitcats-env/internal/version"

	"github.com/gorilla/websocket"
)

// Environment is the part of env.Env the server drives.
type Environment interface {
	Reset(ctx context.Context) (observe.Observation, env.Info, error)
	Step(ctx context.Context, cmd input.Command) (env.StepResult, error)
	Spaces() env.Spaces
}

// Request is one trainer call.
type Request struct {
	Op     string    `json:"op"`
	Action []float64 `json:"action,omitempty"`
}

// Response answers a Request. Error is set instead of the payload on failure.
type Response struct {
	Observation *observe.Observation `json:"observation,omitempty"`
	Reward      float64              `json:"reward"`
	Terminated  bool                 `json:"terminated"`
	Truncated   bool                 `json:"truncated"`
	Info        *env.Info            `json:"info,omitempty"`
	Spaces      *env.Spaces          `json:"spaces,omitempty"`
	Error       string               `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serializes requests from any number of connections onto one
// environment.
type Server struct {
	env    Environment
	logger *slog.Logger

	mu sync.Mutex
	// ctx bounds every env call; it is replaced by ListenAndServe.
	ctx context.Context
}

// New creates a server for e.
func New(e Environment, logger *slog.Logger) *Server {
	return &Server{env: e, logger: logger, ctx: context.Background()}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Environment server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	s.logger.Info("Trainer connected", slog.String("remote", r.RemoteAddr))
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Trainer read failed", slog.Any("error", err))
			}
			return
		}

		resp := s.Handle(req)
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Debug("Trainer write failed", slog.Any("error", err))
			return
		}
	}
}

// Handle executes one request against the environment.
func (s *Server) Handle(req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Op {
	case "reset":
		obs, info, err := s.env.Reset(s.ctx)
		if err != nil {
			return errorResponse(err)
		}
		return Response{Observation: &obs, Info: &info}

	case "step":
		cmd, err := input.FromVector(req.Action)
		if err != nil {
			return errorResponse(err)
		}
		res, err := s.env.Step(s.ctx, cmd)
		if err != nil {
			return errorResponse(err)
		}
		return Response{
			Observation: &res.Observation,
			Reward:      res.Reward,
			Terminated:  res.Terminated,
			Truncated:   res.Truncated,
			Info:        &res.Info,
		}

	case "spaces":
		sp := s.env.Spaces()
		return Response{Spaces: &sp}

	default:
		return errorResponse(fmt.Errorf("unknown op %q", req.Op))
	}
}

func errorResponse(err error) Response {
	return Response{Error: err.Error()}
}
