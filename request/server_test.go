package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testRegistry() *Registry {
	return NewRegistry().
		Add(NewCommand("echo", "echo a message", "echo> ",
			func(ctx context.Context, out io.Writer) error {
				fmt.Fprintln(out, "hello")
				return nil
			})).
		Add(NewCommand("fail", "always fails", "fail> ",
			func(ctx context.Context, out io.Writer) error {
				return fmt.Errorf("deliberate failure")
			})).
		Add(NewCommand("exit", "shutdown", "exit> ",
			func(ctx context.Context, out io.Writer) error {
				fmt.Fprintln(out, "Exiting...")
				return ErrTerminateServing
			}))
}

func TestExecuteOneShot(t *testing.T) {
	tests := []struct {
		desc       string
		request    string
		wantOutput string
		wantError  string
	}{
		{"successful command", `{"command": "echo"}`, "hello\n", ""},
		{"failing command", `{"command": "fail"}`, "", "deliberate failure"},
		{"exit command", `{"command": "exit"}`, "Exiting...\n", ""},
		{"malformed request", `{{{`, "", "malformed request"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			var out strings.Builder
			err := Execute(context.Background(), testRegistry(), strings.NewReader(tt.request), &out)
			if err != nil {
				t.Fatalf("Execute() = %v", err)
			}

			var resp Response
			if err := json.Unmarshal([]byte(out.String()), &resp); err != nil {
				t.Fatalf("response is not valid JSON: %v", err)
			}
			if resp.Output != tt.wantOutput {
				t.Errorf("output = %q, expected %q", resp.Output, tt.wantOutput)
			}
			if !strings.Contains(resp.Error, tt.wantError) {
				t.Errorf("error = %q, expected it to contain %q", resp.Error, tt.wantError)
			}
		})
	}
}

func startTestServer(t *testing.T) (*Server, string, <-chan error) {
	t.Helper()
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "symdex.pid")
	socketPath := filepath.Join(dir, "symdex.sock")

	srv, err := NewServer(testRegistry(), nil, pidPath, socketPath)
	if err != nil {
		t.Fatalf("NewServer() = %v", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(context.Background())
	}()

	// Wait for the socket to appear.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			return srv, socketPath, serveErr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server socket never appeared")
	return nil, "", nil
}

func roundTrip(t *testing.T, socketPath, request string) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to dial socket: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(request)); err != nil {
		t.Fatalf("failed to send request: %v", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestServerServesSequentialRequests(t *testing.T) {
	srv, socketPath, serveErr := startTestServer(t)
	defer srv.Close()

	resp := roundTrip(t, socketPath, `{"command": "echo"}`)
	if resp.Output != "hello\n" || resp.Error != "" {
		t.Errorf("echo response = %+v", resp)
	}

	// An unknown command is an error response, not a serving failure.
	resp = roundTrip(t, socketPath, `{"command": "nope"}`)
	if !strings.Contains(resp.Error, `unknown command "nope"`) {
		t.Errorf("unknown command error = %q", resp.Error)
	}

	// The server must still serve after the error.
	resp = roundTrip(t, socketPath, `{"command": "echo"}`)
	if resp.Output != "hello\n" {
		t.Errorf("echo after error = %+v", resp)
	}

	resp = roundTrip(t, socketPath, `{"command": "exit"}`)
	if resp.Output != "Exiting...\n" {
		t.Errorf("exit response = %+v", resp)
	}

	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve() = %v, expected nil after exit", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after the exit command")
	}
}

func TestServerCloseRemovesState(t *testing.T) {
	srv, socketPath, serveErr := startTestServer(t)

	roundTrip(t, socketPath, `{"command": "exit"}`)
	<-serveErr

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Close: %v", err)
	}
	if _, err := os.Stat(srv.pidPath); !os.IsNotExist(err) {
		t.Errorf("PID file still present after Close: %v", err)
	}
}

func TestServerStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	srv, err := NewServer(testRegistry(), nil,
		filepath.Join(dir, "symdex.pid"), filepath.Join(dir, "symdex.sock"))
	if err != nil {
		t.Fatalf("NewServer() = %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve() = %v, expected nil on cancellation", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestServerRejectsMalformedPayload(t *testing.T) {
	srv, socketPath, serveErr := startTestServer(t)
	defer srv.Close()

	resp := roundTrip(t, socketPath, `not json at all`)
	if !strings.Contains(resp.Error, "malformed request") {
		t.Errorf("malformed payload error = %q", resp.Error)
	}

	// Serving continues.
	resp = roundTrip(t, socketPath, `{"command": "exit"}`)
	if resp.Output != "Exiting...\n" {
		t.Errorf("exit after malformed payload = %+v", resp)
	}
	<-serveErr
}

func TestNewServerRefusesSecondDaemon(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "symdex.pid")

	first, err := NewServer(testRegistry(), nil, pidPath, filepath.Join(dir, "a.sock"))
	if err != nil {
		t.Fatalf("NewServer() = %v", err)
	}
	defer first.Close()

	if _, err := NewServer(testRegistry(), nil, pidPath, filepath.Join(dir, "b.sock")); err == nil {
		t.Error("second NewServer on the same PID file succeeded, expected lock failure")
	}
}
