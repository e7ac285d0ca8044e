package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ClientConfig holds configuration for the control client
type ClientConfig struct {
	SocketPath     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Client talks to a running snapshot daemon
type Client struct {
	config ClientConfig
}

// Connection is an open connection to the control socket
type Connection struct {
	conn         net.Conn
	reader       *bufio.Reader
	encoder      *json.Encoder
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.SocketPath == "" {
		cfg.SocketPath = SocketPath()
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Client{config: cfg}
}

// Connect dials the control socket
func (c *Client) Connect(ctx context.Context) (*Connection, error) {
	if _, err := os.Stat(c.config.SocketPath); os.IsNotExist(err) {
		return nil, ErrNotRunning
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.config.SocketPath)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, ErrStaleSocket
		}
		if os.IsTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Connection{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		encoder:      json.NewEncoder(conn),
		readTimeout:  c.config.ReadTimeout,
		writeTimeout: c.config.WriteTimeout,
	}, nil
}

func (conn *Connection) Close() error {
	return conn.conn.Close()
}

var requestID uint64

// Call performs a synchronous RPC call
func (conn *Connection) Call(ctx context.Context, method string, params, result any) error {
	id := fmt.Sprintf("%d-%s", atomic.AddUint64(&requestID, 1), uuid.New().String()[:8])

	req, err := newRequest(id, method, params)
	if err != nil {
		return err
	}

	if err := conn.conn.SetWriteDeadline(time.Now().Add(conn.writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	deadline := time.Now().Add(conn.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	line, err := conn.reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}

	if result != nil && resp.Result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, result any) error {
	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Call(ctx, method, nil, result)
}

// GetStatus returns the daemon status
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var status StatusResponse
	if err := c.call(ctx, MethodStatusGet, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// TriggerRun asks the daemon to run without waiting for the next tick
func (c *Client) TriggerRun(ctx context.Context) (*TriggerResponse, error) {
	var resp TriggerResponse
	if err := c.call(ctx, MethodRunTrigger, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestStop asks the daemon to finish the current run and exit
func (c *Client) RequestStop(ctx context.Context) (*StopResponse, error) {
	var resp StopResponse
	if err := c.call(ctx, MethodControlStop, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
