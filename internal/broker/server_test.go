// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package broker

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/overyonder/turret/internal/bunker"
	"github.com/overyonder/turret/internal/envelope"
)

type testPrincipal struct {
	name string
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newTestPrincipal(t *testing.T, name string) testPrincipal {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testPrincipal{name: name, pub: pub, priv: priv}
}

func randomNonce(t *testing.T) []byte {
	t.Helper()
	n := make([]byte, 16)
	_, err := rand.Read(n)
	require.NoError(t, err)
	return n
}

func signedEnvelope(t *testing.T, p testPrincipal, msgType envelope.MessageType, tsMs uint64, nonce, body []byte) []byte {
	t.Helper()
	env := envelope.Envelope{
		MsgType:   msgType,
		Principal: []byte(p.name),
		TsMs:      tsMs,
		Nonce:     nonce,
		Body:      body,
		Sig:       envelope.Sign(p.priv, []byte(p.name), tsMs, nonce, body),
	}
	enc, err := env.Encode()
	require.NoError(t, err)
	return enc
}

func newTestCatalog(t *testing.T, agent, rep testPrincipal, grantPermission bool, registerAction bool) *bunker.Catalog {
	t.Helper()
	c := bunker.New([]string{"op-1"})
	require.NoError(t, c.AddAgent(agent.name, agent.pub))
	require.NoError(t, c.AddRepeater(rep.name, rep.pub))
	if registerAction {
		require.NoError(t, c.RegisterAction("echo", rep.name))
	}
	if grantPermission {
		require.NoError(t, c.GrantPermission(agent.name, "echo"))
	}
	require.NoError(t, c.Validate())
	return c
}

func startTestServer(t *testing.T, catalog *bunker.Catalog) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		AgentSock:      filepath.Join(dir, "agent.sock"),
		RepeaterSock:   filepath.Join(dir, "repeater.sock"),
		ReplayWindowMs: 120_000,
	}
	srv := NewServer(cfg, catalog, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the listeners a moment to bind.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", cfg.AgentSock); err == nil {
			conn.Close()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cfg
}

func registerRepeater(t *testing.T, cfg Config, rep testPrincipal, actions []string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", cfg.RepeaterSock)
	require.NoError(t, err)

	body := envelope.RegisterBody{RepeaterID: []byte(rep.name), Actions: actions}
	encBody, err := body.Encode()
	require.NoError(t, err)

	now := uint64(time.Now().UnixMilli())
	nonce := randomNonce(t)
	frame := signedEnvelope(t, rep, envelope.Register, now, nonce, encBody)
	require.NoError(t, envelope.WriteFrame(conn, frame))

	// Give the broker a moment to process the registration before any
	// agent connects and issues an Invoke.
	time.Sleep(20 * time.Millisecond)
	return conn
}

func TestEchoRoundTrip(t *testing.T) {
	agent := newTestPrincipal(t, "agent-1")
	rep := newTestPrincipal(t, "rep-1")
	catalog := newTestCatalog(t, agent, rep, true, true)
	cfg := startTestServer(t, catalog)

	repConn := registerRepeater(t, cfg, rep, []string{"echo"})
	defer repConn.Close()

	agentConn, err := net.Dial("unix", cfg.AgentSock)
	require.NoError(t, err)
	defer agentConn.Close()

	invokeBody := envelope.InvokeBody{RequestID: []byte("req-1"), Action: "echo", Params: []byte("payload")}
	encInvoke, err := invokeBody.Encode()
	require.NoError(t, err)

	now := uint64(time.Now().UnixMilli())
	frame := signedEnvelope(t, agent, envelope.Invoke, now, randomNonce(t), encInvoke)
	require.NoError(t, envelope.WriteFrame(agentConn, frame))

	// Repeater receives the forwarded Invoke verbatim and echoes it back
	// as a Result.
	forwarded, err := envelope.ReadFrame(repConn)
	require.NoError(t, err)
	require.Equal(t, frame, forwarded)

	fwdEnv, err := envelope.Decode(forwarded)
	require.NoError(t, err)
	fwdInvoke, err := envelope.DecodeInvokeBody(fwdEnv.Body)
	require.NoError(t, err)

	resultBody := envelope.ResultBody{RequestID: fwdInvoke.RequestID, Payload: fwdInvoke.Params}
	encResult, err := resultBody.Encode()
	require.NoError(t, err)
	resultFrame := signedEnvelope(t, rep, envelope.Result, uint64(time.Now().UnixMilli()), randomNonce(t), encResult)
	require.NoError(t, envelope.WriteFrame(repConn, resultFrame))

	reply, err := envelope.ReadFrame(agentConn)
	require.NoError(t, err)
	replyEnv, err := envelope.Decode(reply)
	require.NoError(t, err)
	require.Equal(t, envelope.Result, replyEnv.MsgType)

	replyBody, err := envelope.DecodeResultBody(replyEnv.Body)
	require.NoError(t, err)
	require.Equal(t, []byte("req-1"), replyBody.RequestID)
	require.Equal(t, []byte("payload"), replyBody.Payload)
}

func TestInvokeDeniedWithoutPermission(t *testing.T) {
	agent := newTestPrincipal(t, "agent-1")
	rep := newTestPrincipal(t, "rep-1")
	catalog := newTestCatalog(t, agent, rep, false, true)
	cfg := startTestServer(t, catalog)

	agentConn, err := net.Dial("unix", cfg.AgentSock)
	require.NoError(t, err)
	defer agentConn.Close()

	invokeBody := envelope.InvokeBody{RequestID: []byte("req-1"), Action: "echo", Params: []byte("payload")}
	encInvoke, err := invokeBody.Encode()
	require.NoError(t, err)
	frame := signedEnvelope(t, agent, envelope.Invoke, uint64(time.Now().UnixMilli()), randomNonce(t), encInvoke)
	require.NoError(t, envelope.WriteFrame(agentConn, frame))

	reply, err := envelope.ReadFrame(agentConn)
	require.NoError(t, err)
	replyEnv, err := envelope.Decode(reply)
	require.NoError(t, err)
	require.Equal(t, envelope.Error, replyEnv.MsgType)

	errBody, err := envelope.DecodeErrorBody(replyEnv.Body)
	require.NoError(t, err)
	require.Equal(t, envelope.ErrDenied, errBody.Code)
}

func TestInvokeUnknownAction(t *testing.T) {
	agent := newTestPrincipal(t, "agent-1")
	rep := newTestPrincipal(t, "rep-1")

	// Permission references an action the catalog never registers. Such a
	// catalog fails Validate, so Save refuses to seal it and Load rejects
	// it, but the broker must still handle it defensively since it trusts
	// the snapshot it is given as-is.
	catalog := bunker.New([]string{"op-1"})
	require.NoError(t, catalog.AddAgent(agent.name, agent.pub))
	require.NoError(t, catalog.AddRepeater(rep.name, rep.pub))
	catalog.Permissions[agent.name] = []string{"echo"}
	cfg := startTestServer(t, catalog)

	agentConn, err := net.Dial("unix", cfg.AgentSock)
	require.NoError(t, err)
	defer agentConn.Close()

	invokeBody := envelope.InvokeBody{RequestID: []byte("req-1"), Action: "echo", Params: []byte("payload")}
	encInvoke, err := invokeBody.Encode()
	require.NoError(t, err)
	frame := signedEnvelope(t, agent, envelope.Invoke, uint64(time.Now().UnixMilli()), randomNonce(t), encInvoke)
	require.NoError(t, envelope.WriteFrame(agentConn, frame))

	reply, err := envelope.ReadFrame(agentConn)
	require.NoError(t, err)
	replyEnv, err := envelope.Decode(reply)
	require.NoError(t, err)
	errBody, err := envelope.DecodeErrorBody(replyEnv.Body)
	require.NoError(t, err)
	require.Equal(t, envelope.ErrUnknownAction, errBody.Code)
}

func TestInvokeNoRepeaterConnected(t *testing.T) {
	agent := newTestPrincipal(t, "agent-1")
	rep := newTestPrincipal(t, "rep-1")
	catalog := newTestCatalog(t, agent, rep, true, true)
	cfg := startTestServer(t, catalog)

	agentConn, err := net.Dial("unix", cfg.AgentSock)
	require.NoError(t, err)
	defer agentConn.Close()

	invokeBody := envelope.InvokeBody{RequestID: []byte("req-1"), Action: "echo", Params: []byte("payload")}
	encInvoke, err := invokeBody.Encode()
	require.NoError(t, err)
	frame := signedEnvelope(t, agent, envelope.Invoke, uint64(time.Now().UnixMilli()), randomNonce(t), encInvoke)
	require.NoError(t, envelope.WriteFrame(agentConn, frame))

	reply, err := envelope.ReadFrame(agentConn)
	require.NoError(t, err)
	replyEnv, err := envelope.Decode(reply)
	require.NoError(t, err)
	errBody, err := envelope.DecodeErrorBody(replyEnv.Body)
	require.NoError(t, err)
	require.Equal(t, envelope.ErrNoRepeater, errBody.Code)
}

func TestInvokeReplayIsRejectedOnResend(t *testing.T) {
	agent := newTestPrincipal(t, "agent-1")
	rep := newTestPrincipal(t, "rep-1")
	catalog := newTestCatalog(t, agent, rep, true, true)
	cfg := startTestServer(t, catalog)

	repConn := registerRepeater(t, cfg, rep, []string{"echo"})
	defer repConn.Close()

	agentConn, err := net.Dial("unix", cfg.AgentSock)
	require.NoError(t, err)
	defer agentConn.Close()

	invokeBody := envelope.InvokeBody{RequestID: []byte("req-1"), Action: "echo", Params: []byte("payload")}
	encInvoke, err := invokeBody.Encode()
	require.NoError(t, err)

	nonce := randomNonce(t)
	ts := uint64(time.Now().UnixMilli())
	frame := signedEnvelope(t, agent, envelope.Invoke, ts, nonce, encInvoke)

	require.NoError(t, envelope.WriteFrame(agentConn, frame))
	_, err = envelope.ReadFrame(repConn) // consume the forwarded frame
	require.NoError(t, err)

	// Resend the exact same signed frame: same nonce, same ts.
	require.NoError(t, envelope.WriteFrame(agentConn, frame))

	reply, err := envelope.ReadFrame(agentConn)
	require.NoError(t, err)
	replyEnv, err := envelope.Decode(reply)
	require.NoError(t, err)
	errBody, err := envelope.DecodeErrorBody(replyEnv.Body)
	require.NoError(t, err)
	require.Equal(t, envelope.ErrReplay, errBody.Code)
}

func TestInvokeOutsideWindowIsRejected(t *testing.T) {
	agent := newTestPrincipal(t, "agent-1")
	rep := newTestPrincipal(t, "rep-1")
	catalog := newTestCatalog(t, agent, rep, true, true)
	cfg := startTestServer(t, catalog)

	agentConn, err := net.Dial("unix", cfg.AgentSock)
	require.NoError(t, err)
	defer agentConn.Close()

	invokeBody := envelope.InvokeBody{RequestID: []byte("req-1"), Action: "echo", Params: []byte("payload")}
	encInvoke, err := invokeBody.Encode()
	require.NoError(t, err)

	staleTs := uint64(time.Now().UnixMilli()) - 121_000
	frame := signedEnvelope(t, agent, envelope.Invoke, staleTs, randomNonce(t), encInvoke)
	require.NoError(t, envelope.WriteFrame(agentConn, frame))

	reply, err := envelope.ReadFrame(agentConn)
	require.NoError(t, err)
	replyEnv, err := envelope.Decode(reply)
	require.NoError(t, err)
	errBody, err := envelope.DecodeErrorBody(replyEnv.Body)
	require.NoError(t, err)
	require.Equal(t, envelope.ErrReplay, errBody.Code)
}

func TestUnknownPrincipalConnectionIsClosed(t *testing.T) {
	agent := newTestPrincipal(t, "agent-1")
	rep := newTestPrincipal(t, "rep-1")
	stranger := newTestPrincipal(t, "stranger")
	catalog := newTestCatalog(t, agent, rep, true, true)
	cfg := startTestServer(t, catalog)

	conn, err := net.Dial("unix", cfg.AgentSock)
	require.NoError(t, err)
	defer conn.Close()

	frame := signedEnvelope(t, stranger, envelope.Invoke, uint64(time.Now().UnixMilli()), randomNonce(t), []byte("x"))
	require.NoError(t, envelope.WriteFrame(conn, frame))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = envelope.ReadFrame(conn)
	require.Error(t, err) // connection closed, no reply
}
