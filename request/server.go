package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/symdex/symdex/daemon"
	"github.com/symdex/symdex/internal/logging"
)

// Response is the single object written back for every request, identical in
// one-shot and serving mode.
type Response struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Execute is the one-shot front end: read exactly one request from in,
// dispatch it, write exactly one response to out. The terminate outcome just
// ends the (single-request) invocation and is not reported as an error.
func Execute(ctx context.Context, registry *Registry, in io.Reader, out io.Writer) error {
	var raw json.RawMessage
	if err := json.NewDecoder(in).Decode(&raw); err != nil {
		return writeResponse(out, Response{Error: fmt.Sprintf("malformed request: %v", err)})
	}
	resp, _ := dispatch(ctx, registry, raw)
	return writeResponse(out, resp)
}

// dispatch runs one request and reports whether the handler asked to
// terminate serving.
func dispatch(ctx context.Context, registry *Registry, raw []byte) (Response, bool) {
	var buf bytes.Buffer
	err := registry.Dispatch(ctx, raw, &buf)
	if errors.Is(err, ErrTerminateServing) {
		return Response{Output: buf.String()}, true
	}
	if err != nil {
		return Response{Output: buf.String(), Error: err.Error()}, false
	}
	return Response{Output: buf.String()}, false
}

func writeResponse(out io.Writer, resp Response) error {
	return json.NewEncoder(out).Encode(resp)
}

// Server is the serving front end. Constructing it writes the pid file;
// Close removes both the pid file and the socket file, on every exit path.
type Server struct {
	registry   *Registry
	logger     *slog.Logger
	pidPath    string
	socketPath string
	pidLock    *flock.Flock
}

// NewServer records the daemon's on-disk state (pid file now, socket file
// once Serve binds it). Callers must Close the server even when Serve fails.
func NewServer(registry *Registry, logger *slog.Logger, pidPath, socketPath string) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	lock, err := daemon.WritePIDFile(pidPath)
	if err != nil {
		return nil, err
	}
	return &Server{
		registry:   registry,
		logger:     logger.With(slog.String("component", "server")),
		pidPath:    pidPath,
		socketPath: socketPath,
		pidLock:    lock,
	}, nil
}

// Serve accepts connections sequentially until the exit command terminates
// serving or ctx is cancelled. One connection carries exactly one
// request/response pair. Handlers never run concurrently with each other.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	defer listener.Close()

	// Unblock Accept when the run context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			listener.Close()
		case <-done:
		}
	}()

	s.logger.Info("serving", slog.String("socket", s.socketPath), slog.Int("pid", os.Getpid()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", logging.Error(err))
			continue
		}
		if terminate := s.serveConn(ctx, conn); terminate {
			return nil
		}
	}
}

// serveConn handles one connection: decode one request, dispatch, write one
// response, close. Decode failures produce an error response and serving
// continues.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) bool {
	defer conn.Close()

	requestID := uuid.NewString()
	log := s.logger.With(slog.String("request_id", requestID))
	log.Debug("client connected")

	var raw json.RawMessage
	if err := json.NewDecoder(conn).Decode(&raw); err != nil {
		log.Debug("malformed request", logging.Error(err))
		_ = writeResponse(conn, Response{Error: fmt.Sprintf("malformed request: %v", err)})
		return false
	}

	resp, terminate := dispatch(ctx, s.registry, raw)
	if resp.Error != "" {
		log.Debug("request failed", slog.String("error", resp.Error))
	}
	if err := writeResponse(conn, resp); err != nil {
		log.Debug("failed to write response", logging.Error(err))
	}
	return terminate
}

// Close removes the daemon's on-disk state. Safe to call after a failed
// Serve; errors removing one file do not stop removal of the other.
func (s *Server) Close() error {
	var errs []error
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove socket: %w", err))
	}
	if err := daemon.RemovePIDFile(s.pidPath, s.pidLock); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
