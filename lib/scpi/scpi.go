// Package scpi defines the connection used by the instrument drivers and
// provides a raw socket transport for LAN instruments.
package scpi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultPort is the raw SCPI socket port used by most LAN instruments.
const DefaultPort = "5555"

// Conn sends SCPI commands and queries to one instrument. It satisfies
// query.Querier from github.com/gotmc/query.
type Conn interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
	QueryBlock(cmd string) ([]byte, error)
	Close() error
}

// Socket is a newline terminated SCPI session over TCP.
type Socket struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// Dial connects to addr, a host with an optional port. The timeout applies to
// the connection attempt and to every subsequent operation.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Socket, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewSocket(conn, timeout), nil
}

// NewSocket wraps an established connection.
func NewSocket(conn net.Conn, timeout time.Duration) *Socket {
	return &Socket{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
	}
}

func (s *Socket) deadline() error {
	if s.timeout <= 0 {
		return nil
	}
	return s.conn.SetDeadline(time.Now().Add(s.timeout))
}

// Command formats according to a format specifier if arguments are given and
// sends the command terminated by a newline.
func (s *Socket) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	if err := s.deadline(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.conn, "%s\n", strings.TrimSpace(cmd))
	return err
}

// Query sends cmd and returns the response line without its terminator.
func (s *Socket) Query(cmd string) (string, error) {
	if err := s.Command("%s", cmd); err != nil {
		return "", fmt.Errorf("writing %q: %w", cmd, err)
	}
	return ReadLine(s.r, '\n')
}

// QueryBlock sends cmd and decodes a binary block response.
func (s *Socket) QueryBlock(cmd string) ([]byte, error) {
	if err := s.Command("%s", cmd); err != nil {
		return nil, fmt.Errorf("writing %q: %w", cmd, err)
	}
	return ReadBlock(s.r)
}

// Close closes the connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}
