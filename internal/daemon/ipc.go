package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/permgate/internal/core"
)

// JSON-RPC error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603
)

// maxLineSize bounds one request line.
const maxLineSize = 1 << 20

// RPCRequest is one line-delimited request.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     int64           `json:"id"`
}

// RPCResponse answers one request.
type RPCResponse struct {
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
	ID     int64  `json:"id"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// AuthorizeParams are the parameters of "authorize".
type AuthorizeParams struct {
	Command string `json:"command"`
}

// AuthorizePathParams are the parameters of "authorize_path".
type AuthorizePathParams struct {
	Tool string `json:"tool"`
	Path string `json:"path"`
}

// AuthorizeResult is the result of "authorize" and "authorize_path".
type AuthorizeResult struct {
	Decision  core.Verdict `json:"decision"`
	Reason    string       `json:"reason"`
	Tier      string       `json:"tier,omitempty"`
	Uncertain bool         `json:"uncertain,omitempty"`
	Version   uint64       `json:"version"`
}

// StatusResult is the result of "status" and "reload".
type StatusResult struct {
	Version       uint64    `json:"version"`
	Root          string    `json:"root"`
	LoadedAt      time.Time `json:"loaded_at"`
	AllowRules    int       `json:"allow_rules"`
	DenyRules     int       `json:"deny_rules"`
	Sources       []string  `json:"sources"`
	Uptime        int64     `json:"uptime_seconds"`
	SignatureHash string    `json:"signature_hash"`
}

// IPCServer serves the authorization service on a unix socket.
type IPCServer struct {
	listener   net.Listener
	socketPath string
	svc        *Service
	logger     *log.Logger
	startTime  time.Time

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// NewIPCServer listens on socketPath with owner-only permissions. A stale
// socket file is removed first.
func NewIPCServer(socketPath string, svc *Service, logger *log.Logger) (*IPCServer, error) {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}
	if logger == nil {
		logger = log.Default().WithPrefix("daemon")
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("creating socket dir: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return &IPCServer{
		listener:   ln,
		socketPath: socketPath,
		svc:        svc,
		logger:     logger,
		startTime:  time.Now(),
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// SocketPath returns the listening socket path.
func (s *IPCServer) SocketPath() string { return s.socketPath }

// Start accepts connections until ctx is done or Stop is called. It returns
// nil on a clean shutdown.
func (s *IPCServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go s.serve(ctx, conn)
	}
}

// Stop closes the listener and every open connection, waits for handlers
// and removes the socket file.
func (s *IPCServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()

		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
		s.wg.Wait()
		if rerr := os.Remove(s.socketPath); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	})
	return err
}

func (s *IPCServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *IPCServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *IPCServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *IPCServer) serve(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		resp := s.handleLine(ctx, line)
		if err := enc.Encode(resp); err != nil {
			s.logger.Debug("write response failed", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && !s.isClosed() {
		s.logger.Debug("connection read failed", "error", err)
	}
}

func (s *IPCServer) handleLine(ctx context.Context, line []byte) *RPCResponse {
	var req RPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(0, ErrCodeParse, "parse error: "+err.Error())
	}
	if req.Method == "" {
		return errorResponse(req.ID, ErrCodeInvalidRequest, "method is required")
	}
	return s.handle(ctx, req)
}

func (s *IPCServer) handle(ctx context.Context, req RPCRequest) *RPCResponse {
	switch req.Method {
	case "ping":
		return &RPCResponse{Result: map[string]bool{"pong": true}, ID: req.ID}
	case "status":
		return &RPCResponse{Result: s.status(s.svc.Snapshot()), ID: req.ID}
	case "rules":
		return &RPCResponse{Result: s.svc.Snapshot(), ID: req.ID}
	case "reload":
		snap, err := s.svc.Reload(ctx)
		if err != nil {
			return errorResponse(req.ID, ErrCodeInternal, err.Error())
		}
		return &RPCResponse{Result: s.status(snap), ID: req.ID}
	case "authorize":
		var p AuthorizeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		res, version := s.svc.Authorize(p.Command)
		return &RPCResponse{Result: authorizeResult(res, version), ID: req.ID}
	case "authorize_path":
		var p AuthorizePathParams
		if err := decodeParams(req.Params, &p); err != nil {
			return errorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		if strings.TrimSpace(p.Tool) == "" {
			return errorResponse(req.ID, ErrCodeInvalidParams, "tool is required")
		}
		res, version := s.svc.AuthorizePath(p.Tool, p.Path)
		return &RPCResponse{Result: authorizeResult(res, version), ID: req.ID}
	}
	return errorResponse(req.ID, ErrCodeMethodNotFound, "method not found: "+req.Method)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func authorizeResult(res core.Result, version uint64) AuthorizeResult {
	return AuthorizeResult{
		Decision:  res.Decision,
		Reason:    res.Reason,
		Tier:      res.Tier,
		Uncertain: res.Uncertain,
		Version:   version,
	}
}

func (s *IPCServer) status(snap *Snapshot) StatusResult {
	return StatusResult{
		Version:       snap.Version,
		Root:          snap.Root,
		LoadedAt:      snap.LoadedAt,
		AllowRules:    len(snap.Rules.Allow),
		DenyRules:     len(snap.Rules.Deny),
		Sources:       snap.Rules.Sources,
		Uptime:        int64(time.Since(s.startTime).Seconds()),
		SignatureHash: snap.engine.Detector().Hash(),
	}
}

func errorResponse(id int64, code int, msg string) *RPCResponse {
	return &RPCResponse{Error: &Error{Code: code, Message: msg}, ID: id}
}
