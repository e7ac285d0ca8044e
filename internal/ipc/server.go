package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// ServerConfig holds configuration for the control server
type ServerConfig struct {
	SocketPath string
	PIDFile    string
	Interval   time.Duration
}

// Server exposes the snapshot daemon over a Unix socket
type Server struct {
	config   ServerConfig
	listener net.Listener
	lockFile *os.File
	logger   *log.Logger

	handlers map[string]HandlerFunc

	statusMu sync.RWMutex
	status   StatusResponse

	triggerChan chan struct{}
	stopChan    chan struct{}
	stopOnce    sync.Once

	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// HandlerFunc is the type for RPC method handlers
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// NewServer takes the daemon lock and prepares the socket. It fails with
// ErrAnotherInstanceRunning when another daemon holds the lock.
func NewServer(cfg ServerConfig, logger *log.Logger) (*Server, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = SocketPath()
	}
	if cfg.PIDFile == "" {
		cfg.PIDFile = PIDPathFor(cfg.SocketPath)
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[ipc] ", log.LstdFlags)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	lockFile, err := os.OpenFile(cfg.PIDFile, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open pid file: %w", err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, ErrAnotherInstanceRunning
	}

	if err := cleanupStaleSocket(cfg.SocketPath); err != nil {
		_ = lockFile.Close()
		return nil, err
	}

	if err := writePID(lockFile); err != nil {
		_ = lockFile.Close()
		return nil, err
	}

	s := &Server{
		config:   cfg,
		lockFile: lockFile,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
		status: StatusResponse{
			State: StateIdle,
			PID:   os.Getpid(),
		},
		triggerChan: make(chan struct{}, 1),
		stopChan:    make(chan struct{}),
	}
	if cfg.Interval > 0 {
		s.status.Interval = cfg.Interval.String()
	}

	s.registerDefaultHandlers()
	return s, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate pid file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek pid file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("failed to write pid: %w", err)
	}
	return nil
}

func cleanupStaleSocket(socketPath string) error {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil
	}

	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return os.Remove(socketPath)
	}
	_ = conn.Close()

	return ErrAnotherInstanceRunning
}

func (s *Server) registerDefaultHandlers() {
	s.handlers[MethodStatusGet] = func(_ context.Context, _ json.RawMessage) (any, error) {
		return s.Status(), nil
	}

	s.handlers[MethodRunTrigger] = func(_ context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-s.stopChan:
			return nil, &RPCError{Code: ErrCodeBusy, Message: "daemon is stopping"}
		default:
		}
		select {
		case s.triggerChan <- struct{}{}:
			return &TriggerResponse{Accepted: true, Message: "run queued"}, nil
		default:
			return &TriggerResponse{Accepted: false, Message: "a run is already queued"}, nil
		}
	}

	s.handlers[MethodControlStop] = func(_ context.Context, _ json.RawMessage) (any, error) {
		acknowledged := false
		s.stopOnce.Do(func() {
			close(s.stopChan)
			acknowledged = true
		})
		if !acknowledged {
			return &StopResponse{Acknowledged: false, Message: "already stopping"}, nil
		}
		s.SetState(StateStopping)
		return &StopResponse{Acknowledged: true, Message: "shutdown initiated"}, nil
	}
}

// RegisterHandler registers a custom RPC handler
func (s *Server) RegisterHandler(method string, handler HandlerFunc) {
	s.handlers[method] = handler
}

// Start listens on the socket and serves requests until Shutdown
func (s *Server) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.runMu.Unlock()

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.config.SocketPath, 0600); err != nil {
		_ = s.listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	now := time.Now().UTC()
	s.statusMu.Lock()
	s.status.StartedAt = &now
	s.statusMu.Unlock()

	s.logger.Printf("ipc: control socket listening on %s", s.config.SocketPath)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				select {
				case <-ctx.Done():
					return
				default:
					s.logger.Printf("ipc: accept error: %v", err)
					continue
				}
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConnection(ctx, conn)
			}()
		}
	}()

	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	reader := bufio.NewReader(conn)
	encoder := json.NewEncoder(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Printf("ipc: read error: %v", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			if encErr := encoder.Encode(newErrorResponse("", ErrCodeParse, "parse error: "+err.Error())); encErr != nil {
				s.logger.Printf("ipc: encode error: %v", encErr)
			}
			continue
		}

		if err := encoder.Encode(s.handleRequest(ctx, &req)); err != nil {
			s.logger.Printf("ipc: encode error: %v", err)
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" {
		return newErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		return newErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return &Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
		return newErrorResponse(req.ID, ErrCodeInternal, err.Error())
	}

	resp, err := newResponse(req.ID, result)
	if err != nil {
		return newErrorResponse(req.ID, ErrCodeInternal, "failed to create response")
	}
	return resp
}

// Shutdown closes the socket, waits for open connections and releases the lock
func (s *Server) Shutdown(ctx context.Context) error {
	s.runMu.Lock()
	wasRunning := s.running
	s.running = false
	s.runMu.Unlock()

	s.stopOnce.Do(func() { close(s.stopChan) })

	if wasRunning && s.listener != nil {
		_ = s.listener.Close()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
			s.logger.Printf("ipc: failed to remove socket: %v", err)
		}
	}

	if s.lockFile != nil {
		_ = s.lockFile.Close()
		s.lockFile = nil
		if err := os.Remove(s.config.PIDFile); err != nil && !os.IsNotExist(err) {
			s.logger.Printf("ipc: failed to remove pid file: %v", err)
		}
	}

	s.logger.Printf("ipc: control socket closed")
	return nil
}

// StopChan is closed when a client requests shutdown
func (s *Server) StopChan() <-chan struct{} {
	return s.stopChan
}

// TriggerChan receives one value per queued run request
func (s *Server) TriggerChan() <-chan struct{} {
	return s.triggerChan
}

// Status returns a copy of the current daemon status
func (s *Server) Status() StatusResponse {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// SetState updates the daemon state
func (s *Server) SetState(state DaemonState) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.status.State == StateStopping {
		return
	}
	s.status.State = state
}

// SetNextRun records when the next scheduled tick fires
func (s *Server) SetNextRun(t time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.NextRunAt = &t
}

// RecordRun stores the outcome of the latest controller run
func (s *Server) RecordRun(summary *types.RunSummary, err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.RunCount++
	if summary != nil {
		copied := *summary
		copied.ReadErrors = append([]string(nil), summary.ReadErrors...)
		s.status.LastRun = &copied
	}
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}
