package rpcserver

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashdb/kvstore/internal/engine"
)

func newTestServer(t *testing.T) (net.Conn, func()) {
	t.Helper()

	e, err := engine.New(engine.Config{
		WALPath:       filepath.Join(t.TempDir(), "wal.log"),
		StripeCount:   4,
		MaxKeyBytes:   64,
		MaxValueBytes: 256,
		FsyncOnAppend: true,
	})
	require.NoError(t, err)

	srv := New("127.0.0.1:0", e, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.listener = ln
	srv.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				go srv.handleConn(conn)
			}
		}()
		<-ctx.Done()
		_ = srv.Close()
	}()

	conn, err := net.DialTimeout("tcp", srv.addr, 2*time.Second)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		cancel()
		<-done
		_ = e.Close()
	}
	return conn, cleanup
}

func sendAndRecv(t *testing.T, conn net.Conn, req request) response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(body, '\n'))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestServer_SetThenGetRoundTrip(t *testing.T) {
	conn, cleanup := newTestServer(t)
	defer cleanup()

	setResp := sendAndRecv(t, conn, request{
		Op:    "set",
		Key:   "greeting",
		Value: base64.StdEncoding.EncodeToString([]byte("hello")),
	})
	require.True(t, setResp.OK, setResp.Error)

	getResp := sendAndRecv(t, conn, request{Op: "get", Key: "greeting"})
	require.True(t, getResp.OK, getResp.Error)
	require.True(t, getResp.Found)

	value, err := base64.StdEncoding.DecodeString(getResp.Value)
	require.NoError(t, err)
	require.Equal(t, "hello", string(value))
}

func TestServer_GetMissingKey(t *testing.T) {
	conn, cleanup := newTestServer(t)
	defer cleanup()

	resp := sendAndRecv(t, conn, request{Op: "get", Key: "nope"})
	require.True(t, resp.OK)
	require.False(t, resp.Found)
}

func TestServer_SetEmptyKeyReturnsError(t *testing.T) {
	conn, cleanup := newTestServer(t)
	defer cleanup()

	resp := sendAndRecv(t, conn, request{Op: "set", Key: "", Value: base64.StdEncoding.EncodeToString([]byte("v"))})
	require.False(t, resp.OK)
	require.NotEmpty(t, resp.Error)
}

func TestServer_UnknownOpReturnsError(t *testing.T) {
	conn, cleanup := newTestServer(t)
	defer cleanup()

	resp := sendAndRecv(t, conn, request{Op: "frobnicate"})
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown op")
}

func TestServer_StatReflectsActivity(t *testing.T) {
	conn, cleanup := newTestServer(t)
	defer cleanup()

	sendAndRecv(t, conn, request{Op: "set", Key: "a", Value: base64.StdEncoding.EncodeToString([]byte("1"))})
	resp := sendAndRecv(t, conn, request{Op: "stat"})
	require.True(t, resp.OK)
	require.NotNil(t, resp.Stat)
	require.Equal(t, 1, resp.Stat.KeyCount)
	require.GreaterOrEqual(t, resp.Stat.SetCount, int64(1))
}

func TestServer_GetPrefixOrdersResults(t *testing.T) {
	conn, cleanup := newTestServer(t)
	defer cleanup()

	for _, k := range []string{"app", "apple", "apricot", "banana"} {
		sendAndRecv(t, conn, request{Op: "set", Key: k, Value: base64.StdEncoding.EncodeToString([]byte(k))})
	}

	resp := sendAndRecv(t, conn, request{Op: "get_prefix", Prefix: "ap"})
	require.True(t, resp.OK)
	require.Equal(t, []string{"app", "apple", "apricot"}, keysOf(resp.Results))
}

func keysOf(pairs []pairDTO) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Key
	}
	return out
}
