// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package broker implements the dispatcher that brokers signed, replay
// protected requests between agents and repeaters: two listeners, a
// per-connection read loop, and the shared session/pending/replay tables
// that route an Invoke to its owning repeater and the reply back.
package broker

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/overyonder/turret/internal/bunker"
	"github.com/overyonder/turret/internal/envelope"
	"github.com/overyonder/turret/internal/replay"
)

// Config controls the two listener endpoints and the replay window.
type Config struct {
	AgentSock      string
	RepeaterSock   string
	ReplayWindowMs uint64
}

// DefaultConfig returns the conventional local socket paths and the
// spec's default replay window.
func DefaultConfig() Config {
	return Config{
		AgentSock:      "turret-agent.sock",
		RepeaterSock:   "turret-repeater.sock",
		ReplayWindowMs: 120_000,
	}
}

type peerKind int

const (
	peerAgent peerKind = iota
	peerRepeater
)

func (k peerKind) String() string {
	if k == peerAgent {
		return "agent"
	}
	return "repeater"
}

// connWriter serializes frame writes to one connection so the request
// forwarder and the reply router never interleave bytes on the wire.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) writeFrame(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return envelope.WriteFrame(w.conn, payload)
}

type agentHandle struct {
	write *connWriter
}

type repeaterSession struct {
	write *connWriter

	mu      sync.Mutex
	actions map[string]struct{}
}

func (s *repeaterSession) hasAction(action string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.actions[action]
	return ok
}

type sharedState struct {
	catalog *bunker.Catalog
	replay  *replay.Cache

	mu        sync.Mutex
	repeaters map[string]*repeaterSession
	pending   map[string]*agentHandle
}

// Server is the broker dispatcher: two listeners sharing one set of
// routing tables.
type Server struct {
	cfg   Config
	log   *slog.Logger
	state *sharedState

	agentListener    net.Listener
	repeaterListener net.Listener

	wg sync.WaitGroup
}

// NewServer constructs a Server bound to a loaded, already-validated
// catalog snapshot. The catalog is treated as immutable for the daemon's
// lifetime.
func NewServer(cfg Config, catalog *bunker.Catalog, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg: cfg,
		log: log,
		state: &sharedState{
			catalog:   catalog,
			replay:    replay.NewCache(cfg.ReplayWindowMs),
			repeaters: make(map[string]*repeaterSession),
			pending:   make(map[string]*agentHandle),
		},
	}
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Run binds both listeners, unlinking stale socket files first, then
// serves until ctx is canceled. Closing the listeners on cancellation is
// what unblocks the two accept loops — Go's net.Listener has no
// WouldBlock-poll mode to cooperatively check a stop flag between
// accepts, so shutdown is driven by closing the listener instead.
func (s *Server) Run(ctx context.Context) error {
	if err := removeIfExists(s.cfg.AgentSock); err != nil {
		return fmt.Errorf("turret: remove stale agent socket: %w", err)
	}
	if err := removeIfExists(s.cfg.RepeaterSock); err != nil {
		return fmt.Errorf("turret: remove stale repeater socket: %w", err)
	}

	agentListener, err := net.Listen("unix", s.cfg.AgentSock)
	if err != nil {
		return fmt.Errorf("turret: bind agent socket: %w", err)
	}
	s.agentListener = agentListener

	repeaterListener, err := net.Listen("unix", s.cfg.RepeaterSock)
	if err != nil {
		agentListener.Close()
		return fmt.Errorf("turret: bind repeater socket: %w", err)
	}
	s.repeaterListener = repeaterListener

	s.wg.Add(2)
	go s.acceptLoop(agentListener, peerAgent)
	go s.acceptLoop(repeaterListener, peerRepeater)

	<-ctx.Done()
	agentListener.Close()
	repeaterListener.Close()
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(listener net.Listener, kind peerKind) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept error", "peer_kind", kind.String(), "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		go func() {
			if err := s.peerReadLoop(conn, kind); err != nil {
				s.log.Debug("peer loop ended", "peer_kind", kind.String(), "err", err)
			}
		}()
	}
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

func (s *Server) peerReadLoop(conn net.Conn, kind peerKind) error {
	defer conn.Close()
	write := &connWriter{conn: conn}

	var repeaterIDForConn string
	hasRepeaterID := false

	for {
		payload, err := envelope.ReadFrame(conn)
		if err != nil {
			break
		}

		env, err := envelope.Decode(payload)
		if err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}

		vk, known := s.lookupVK(string(env.Principal))
		if !known {
			return fmt.Errorf("unknown principal %q", env.Principal)
		}

		now := nowMs()
		replayErr := s.state.replay.CheckAndRecord(now, env.TsMs, env.Principal, env.Nonce)
		if replayErr != nil {
			replayRejectionsTotal.Inc()
			if kind == peerAgent && env.MsgType == envelope.Invoke {
				if body, decErr := envelope.DecodeInvokeBody(env.Body); decErr == nil {
					_ = s.sendError(write, body.RequestID, envelope.ErrReplay, "replay")
				}
			}
			continue
		}

		if err := envelope.Verify(vk, env.Principal, env.TsMs, env.Nonce, env.Body, env.Sig); err != nil {
			return fmt.Errorf("signature verification failed: %w", err)
		}

		switch {
		case kind == peerRepeater && env.MsgType == envelope.Register:
			id, ok := s.handleRegister(env, write)
			if ok {
				repeaterIDForConn = id
				hasRepeaterID = true
			}

		case kind == peerAgent && env.MsgType == envelope.Invoke:
			s.handleInvoke(env, payload, write)

		case kind == peerRepeater && env.MsgType == envelope.Result:
			body, err := envelope.DecodeResultBody(env.Body)
			if err == nil {
				s.routeReply(body.RequestID, payload)
			}

		case kind == peerRepeater && env.MsgType == envelope.Error:
			body, err := envelope.DecodeErrorBody(env.Body)
			if err == nil {
				s.routeReply(body.RequestID, payload)
			}

		default:
			// Unsupported (peer_kind, msg_type) pair: ignore.
		}
	}

	if hasRepeaterID {
		s.state.mu.Lock()
		delete(s.state.repeaters, repeaterIDForConn)
		s.state.mu.Unlock()
		activeRepeaters.Dec()
	}
	return nil
}

func (s *Server) handleRegister(env envelope.Envelope, write *connWriter) (string, bool) {
	body, err := envelope.DecodeRegisterBody(env.Body)
	if err != nil {
		return "", false
	}
	if string(body.RepeaterID) != string(env.Principal) {
		return "", false
	}
	principal := string(body.RepeaterID)
	if !s.state.catalog.IsRepeater(principal) {
		return "", false
	}

	actions := make(map[string]struct{})
	for _, action := range body.Actions {
		if owner, ok := s.state.catalog.ActionOwner(action); ok && owner == principal {
			actions[action] = struct{}{}
		}
	}

	session := &repeaterSession{write: write, actions: actions}

	s.state.mu.Lock()
	_, replaced := s.state.repeaters[principal]
	s.state.repeaters[principal] = session
	s.state.mu.Unlock()

	if !replaced {
		activeRepeaters.Inc()
	}
	return principal, true
}

func (s *Server) handleInvoke(env envelope.Envelope, payload []byte, write *connWriter) {
	body, err := envelope.DecodeInvokeBody(env.Body)
	if err != nil {
		invocationsTotal.WithLabelValues("bad_request").Inc()
		_ = s.sendError(write, nil, envelope.ErrBadRequestCode, "bad request")
		return
	}
	agentID := string(env.Principal)

	if !s.state.catalog.Allows(agentID, body.Action) {
		invocationsTotal.WithLabelValues("denied").Inc()
		_ = s.sendError(write, body.RequestID, envelope.ErrDenied, "denied")
		return
	}

	owner, ok := s.state.catalog.ActionOwner(body.Action)
	if !ok {
		invocationsTotal.WithLabelValues("unknown_action").Inc()
		_ = s.sendError(write, body.RequestID, envelope.ErrUnknownAction, "unknown action")
		return
	}

	s.state.mu.Lock()
	session := s.state.repeaters[owner]
	s.state.mu.Unlock()
	if session == nil {
		invocationsTotal.WithLabelValues("no_repeater").Inc()
		_ = s.sendError(write, body.RequestID, envelope.ErrNoRepeater, "no repeater")
		return
	}
	if !session.hasAction(body.Action) {
		invocationsTotal.WithLabelValues("no_repeater").Inc()
		_ = s.sendError(write, body.RequestID, envelope.ErrNoRepeater, "repeater not registered for action")
		return
	}

	s.state.mu.Lock()
	s.state.pending[string(body.RequestID)] = &agentHandle{write: write}
	s.state.mu.Unlock()
	pendingRequests.Inc()

	if err := session.write.writeFrame(payload); err != nil {
		s.log.Debug("forward to repeater failed", "action", body.Action, "err", err)
		return
	}
	invocationsTotal.WithLabelValues("forwarded").Inc()
}

func (s *Server) routeReply(requestID []byte, payload []byte) {
	key := string(requestID)
	s.state.mu.Lock()
	agent, ok := s.state.pending[key]
	if ok {
		delete(s.state.pending, key)
	}
	s.state.mu.Unlock()
	if !ok {
		return
	}
	pendingRequests.Dec()
	_ = agent.write.writeFrame(payload)
}

func (s *Server) sendError(write *connWriter, requestID []byte, code envelope.ErrorCode, message string) error {
	body := envelope.ErrorBody{RequestID: requestID, Code: code, Message: message}
	encodedBody, err := body.Encode()
	if err != nil {
		return err
	}

	env := envelope.Envelope{
		MsgType:   envelope.Error,
		Principal: []byte("turret"),
		TsMs:      nowMs(),
		Nonce:     make([]byte, 16),
		Body:      encodedBody,
	}
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	return write.writeFrame(payload)
}

func (s *Server) lookupVK(principal string) (ed25519.PublicKey, bool) {
	vk, known, err := s.state.catalog.VerifyingKey(principal)
	if err != nil || !known {
		return nil, false
	}
	return vk, true
}
