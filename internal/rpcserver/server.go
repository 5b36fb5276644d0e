// Package rpcserver is a thin newline-delimited-JSON-over-TCP adapter in
// front of engine.Engine. The wire format is deliberately unversioned and
// has no accompanying CLI client: the transport is an external collaborator
// the rest of the system treats as a black box, not part of the storage
// engine's correctness surface.
package rpcserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flashdb/kvstore/internal/engine"
)

type request struct {
	Op         string `json:"op"`
	Key        string `json:"key,omitempty"`
	Value      string `json:"value,omitempty"` // base64-encoded
	Prefix     string `json:"prefix,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

type pairDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"` // base64-encoded
}

type statDTO struct {
	KeyCount        int    `json:"key_count"`
	ServerStartTime string `json:"server_start_time"`
	TotalRequests   int64  `json:"total_requests"`
	SetCount        int64  `json:"set_count"`
	GetCount        int64  `json:"get_count"`
	GetPrefixCount  int64  `json:"getprefix_count"`
}

type response struct {
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	Value   string    `json:"value,omitempty"`
	Found   bool      `json:"found,omitempty"`
	Results []pairDTO `json:"results,omitempty"`
	Stat    *statDTO  `json:"stat,omitempty"`
}

func errorResponse(err error) response {
	return response{Error: err.Error()}
}

// Server accepts TCP connections and dispatches one JSON request per line to
// an engine.Engine, writing back one JSON response per line. Each
// connection runs on its own goroutine and shares no per-connection state
// with any other connection.
type Server struct {
	addr   string
	engine *engine.Engine
	log    *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New returns a Server that will listen on addr once Serve is called.
func New(addr string, e *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, engine: e, log: log}
}

// Serve listens on s.addr and handles connections until ctx is canceled or
// a fatal accept error occurs. It returns nil on a clean, context-triggered
// shutdown.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpcserver: listen: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("rpcserver listening", slog.String("addr", s.addr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return s.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return nil
				}
				return fmt.Errorf("rpcserver: accept: %w", err)
			}
			go s.handleConn(conn)
		}
	})
	return g.Wait()
}

// Close stops accepting new connections. Connections already accepted run
// to completion on their own goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	log := s.log.With(slog.String("conn_id", connID), slog.String("remote_addr", conn.RemoteAddr().String()))
	log.Info("connection opened")
	defer log.Info("connection closed")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := enc.Encode(response{Error: fmt.Sprintf("malformed request: %v", err)}); encErr != nil {
				return
			}
			continue
		}

		if err := enc.Encode(s.dispatch(req)); err != nil {
			log.Warn("write failed", slog.Any("error", err))
			return
		}
	}
}

func (s *Server) dispatch(req request) response {
	switch req.Op {
	case "set":
		value, err := base64.StdEncoding.DecodeString(req.Value)
		if err != nil {
			return errorResponse(fmt.Errorf("value is not valid base64: %w", err))
		}
		if err := s.engine.Set(req.Key, value); err != nil {
			return errorResponse(err)
		}
		return response{OK: true}

	case "get":
		value, found, err := s.engine.Get(req.Key)
		if err != nil {
			return errorResponse(err)
		}
		return response{OK: true, Found: found, Value: base64.StdEncoding.EncodeToString(value)}

	case "get_prefix":
		pairs := s.engine.GetPrefix(req.Prefix, req.MaxResults)
		results := make([]pairDTO, len(pairs))
		for i, p := range pairs {
			results[i] = pairDTO{Key: p.Key, Value: base64.StdEncoding.EncodeToString(p.Value)}
		}
		return response{OK: true, Results: results}

	case "stat":
		st := s.engine.Stat()
		return response{OK: true, Stat: &statDTO{
			KeyCount:        st.KeyCount,
			ServerStartTime: st.ServerStartTime,
			TotalRequests:   st.TotalRequests,
			SetCount:        st.SetCount,
			GetCount:        st.GetCount,
			GetPrefixCount:  st.GetPrefixCount,
		}}

	default:
		return errorResponse(fmt.Errorf("unknown op %q", req.Op))
	}
}
