package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dicklesworthstone/permgate/internal/config"
)

// DefaultDialTimeout bounds connecting and each call when the context has
// no deadline.
const DefaultDialTimeout = 500 * time.Millisecond

// ErrRootMismatch is returned by Client.Rules when the daemon serves a
// different project.
var ErrRootMismatch = errors.New("daemon serves a different root")

// Status is the reachability of the daemon.
type Status int

const (
	// StatusRunning means the daemon answered a ping.
	StatusRunning Status = iota
	// StatusNotRunning means nothing listens on the socket.
	StatusNotRunning
)

// String returns a human-readable status description.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusNotRunning:
		return "not running"
	default:
		return "unknown"
	}
}

// Client talks to a running daemon over its unix socket. It is safe for
// concurrent use; calls are serialized on one connection.
type Client struct {
	socketPath string
	timeout    time.Duration
	logger     *log.Logger

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-call timeout used when the context has no
// deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for socketPath. It does not connect.
func NewClient(socketPath string, opts ...ClientOption) *Client {
	c := &Client{
		socketPath: socketPath,
		timeout:    DefaultDialTimeout,
		logger:     log.Default().WithPrefix("daemon"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the socket. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w", c.socketPath, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Close closes the connection. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.reader = nil, nil
	return err
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// call sends one request and decodes its result into out. The connection is
// dropped after a transport error so the next call reconnects.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	cctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if deadline, ok := cctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	}

	c.nextID++
	req := RPCRequest{Method: method, ID: c.nextID}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params: %w", method, err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		_ = c.closeLocked()
		return fmt.Errorf("write %s: %w", method, err)
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		_ = c.closeLocked()
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
		ID     int64           `json:"id"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("unmarshal %s response: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.ID != req.ID {
		_ = c.closeLocked()
		return fmt.Errorf("%s: response id %d, want %d", method, resp.ID, req.ID)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	var res struct {
		Pong bool `json:"pong"`
	}
	if err := c.call(ctx, "ping", nil, &res); err != nil {
		return err
	}
	if !res.Pong {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}

// GetStatus reports whether the daemon is reachable.
func (c *Client) GetStatus(ctx context.Context) Status {
	if err := c.Ping(ctx); err != nil {
		c.logger.Debug("daemon unreachable", "socket", c.socketPath, "error", err)
		return StatusNotRunning
	}
	return StatusRunning
}

// Status returns the daemon's snapshot summary.
func (c *Client) Status(ctx context.Context) (StatusResult, error) {
	var res StatusResult
	err := c.call(ctx, "status", nil, &res)
	return res, err
}

// Reload asks the daemon to reload its rules.
func (c *Client) Reload(ctx context.Context) (StatusResult, error) {
	var res StatusResult
	err := c.call(ctx, "reload", nil, &res)
	return res, err
}

// Authorize asks the daemon to decide a command line.
func (c *Client) Authorize(ctx context.Context, command string) (AuthorizeResult, error) {
	var res AuthorizeResult
	err := c.call(ctx, "authorize", AuthorizeParams{Command: command}, &res)
	return res, err
}

// AuthorizePath asks the daemon to decide a file operation.
func (c *Client) AuthorizePath(ctx context.Context, tool, path string) (AuthorizeResult, error) {
	var res AuthorizeResult
	err := c.call(ctx, "authorize_path", AuthorizePathParams{Tool: tool, Path: path}, &res)
	return res, err
}

// Rules returns the daemon's current rule snapshot for projectDir. It fails
// with ErrRootMismatch when the daemon is rooted elsewhere, so callers can
// fall back to loading rules themselves.
func (c *Client) Rules(ctx context.Context, projectDir string) (config.RuleSnapshot, error) {
	var snap Snapshot
	if err := c.call(ctx, "rules", nil, &snap); err != nil {
		return config.RuleSnapshot{}, err
	}
	if projectDir != "" && filepath.Clean(snap.Root) != filepath.Clean(projectDir) {
		return config.RuleSnapshot{}, fmt.Errorf("%w: %s", ErrRootMismatch, snap.Root)
	}
	return snap.Rules, nil
}
