package diskinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/zangezia/DLGuard/internal/nativemsg"
	"github.com/zangezia/DLGuard/pkg/models"
)

// DialFunc opens a fresh connection to a native messaging host
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// NativeClient talks to a native messaging host, one process per request
type NativeClient struct {
	dial DialFunc
}

type nativeRequest struct {
	Command string `json:"command"`
	Path    string `json:"path"`
	Size    *int64 `json:"size,omitempty"`
}

// NewNativeClient spawns hostPath for every request. An empty hostPath runs
// the current executable in native-host mode.
func NewNativeClient(hostPath string) (*NativeClient, error) {
	var args []string
	if hostPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate native host: %w", err)
		}
		hostPath = exe
		args = []string{"native-host"}
	}

	return NewNativeClientWithDialer(ExecDialer(hostPath, args...)), nil
}

// NewNativeClientWithDialer uses dial to reach the host
func NewNativeClientWithDialer(dial DialFunc) *NativeClient {
	return &NativeClient{dial: dial}
}

// Info implements Service
func (c *NativeClient) Info(ctx context.Context, path string) (*models.DiskInfo, error) {
	var info models.DiskInfo
	if err := c.call(ctx, nativeRequest{Command: "info", Path: path}, &info); err != nil {
		return nil, err
	}

	// A reply with neither ok nor an error, such as null or {}, is not an answer
	if !info.OK {
		if info.Error == "" {
			return nil, unavailable("malformed info reply from native host")
		}
		return nil, &ServiceError{Message: info.Error}
	}

	return &info, nil
}

// Check implements Service
func (c *NativeClient) Check(ctx context.Context, size int64, path string) (*models.CheckResult, error) {
	var result models.CheckResult
	if err := c.call(ctx, nativeRequest{Command: "check", Path: path, Size: &size}, &result); err != nil {
		return nil, err
	}

	if !result.OK && result.Error == "" {
		return nil, unavailable("malformed check reply from native host")
	}

	return &result, nil
}

func (c *NativeClient) call(ctx context.Context, req nativeRequest, reply interface{}) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return unavailable("native host connection failed: %v", err)
	}
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		if err := nativemsg.Write(conn, req); err != nil {
			done <- err
			return
		}
		var raw json.RawMessage
		if err := nativemsg.Read(conn, &raw); err != nil {
			done <- err
			return
		}
		done <- json.Unmarshal(raw, reply)
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return unavailable("native host %s: %v", req.Command, ctx.Err())
	case err := <-done:
		if err == io.EOF {
			return unavailable("no response from native host")
		}
		if err != nil {
			return unavailable("native host %s: %v", req.Command, err)
		}
		return nil
	}
}

// ExecDialer starts name with args and speaks to it over its stdio
func ExecDialer(name string, args ...string) DialFunc {
	return func(ctx context.Context) (io.ReadWriteCloser, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}

		if err := cmd.Start(); err != nil {
			return nil, err
		}

		return &processConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	closed bool
}

func (p *processConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close ends the host's input so it exits, then reaps it
func (p *processConn) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.stdin.Close()
	return p.cmd.Wait()
}
