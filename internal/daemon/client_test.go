package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusRunning, "running"},
		{StatusNotRunning, "not running"},
		{Status(99), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("Status(%d).String() = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestClient_NotConnected(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "none.sock"), WithTimeout(100*time.Millisecond), WithLogger(newTestLogger()))
	if err := client.Close(); err != nil {
		t.Errorf("Close on non-connected client should return nil, got: %v", err)
	}
	if err := client.Ping(context.Background()); err == nil {
		t.Error("expected error when pinging non-existent server")
	}
	if got := client.GetStatus(context.Background()); got != StatusNotRunning {
		t.Errorf("GetStatus = %s, want not running", got)
	}
}

func TestClient_Calls(t *testing.T) {
	svc := newTestService(t, []string{"Bash(npm test:*)"}, []string{"Read(.env)"})
	_, socketPath := startServer(t, svc)

	ctx := context.Background()
	client := NewClient(socketPath, WithLogger(newTestLogger()))
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Errorf("second Connect should be a no-op, got: %v", err)
	}
	if got := client.GetStatus(ctx); got != StatusRunning {
		t.Fatalf("GetStatus = %s", got)
	}

	res, err := client.Authorize(ctx, "npm test -- --watch=false")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if res.Decision != "allow" {
		t.Errorf("Authorize decision = %s (%s)", res.Decision, res.Reason)
	}

	res, err = client.AuthorizePath(ctx, "Read", ".env")
	if err != nil {
		t.Fatalf("AuthorizePath: %v", err)
	}
	if res.Decision != "deny" {
		t.Errorf("AuthorizePath decision = %s (%s)", res.Decision, res.Reason)
	}

	st, err := client.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if st.Version != 2 || st.AllowRules != 1 || st.DenyRules != 1 {
		t.Errorf("Reload status = %+v", st)
	}
}

func TestClient_RPCError(t *testing.T) {
	_, socketPath := startServer(t, newTestService(t, nil, nil))
	client := NewClient(socketPath)
	defer client.Close()

	_, err := client.AuthorizePath(context.Background(), "", "a.go")
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != ErrCodeInvalidParams {
		t.Fatalf("err = %v, want invalid params", err)
	}
	// The connection survives an RPC error.
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping after RPC error: %v", err)
	}
}

func TestClient_Rules(t *testing.T) {
	svc := newTestService(t, []string{"Bash(ls:*)"}, nil)
	_, socketPath := startServer(t, svc)
	client := NewClient(socketPath)
	defer client.Close()

	snap, err := client.Rules(context.Background(), svc.Snapshot().Root)
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if len(snap.Allow) != 1 || snap.Allow[0] != "Bash(ls:*)" {
		t.Errorf("Allow = %v", snap.Allow)
	}

	if _, err := client.Rules(context.Background(), "/somewhere/else"); !errors.Is(err, ErrRootMismatch) {
		t.Errorf("err = %v, want ErrRootMismatch", err)
	}
}
