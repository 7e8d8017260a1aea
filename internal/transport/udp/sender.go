// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"

	applog "iqpipe/internal/log"
)

var logger = applog.New("udp")

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("udp sender is closed")

// UDPSender handles sending data packets over UDP.
type UDPSender struct {
	conn *net.UDPConn
	mu   sync.Mutex // protects conn during Close
}

// NewUDPSender creates a new UDPSender targeting address ("host:port").
func NewUDPSender(address string) (*UDPSender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolve udp target %q: %w", address, err)
	}

	// No local port is needed for sending.
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp target %q: %w", address, err)
	}

	logger.Infof("sending to %s", conn.RemoteAddr())
	return &UDPSender{conn: conn}, nil
}

// Send transmits data as one UDP packet.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrSenderClosed
	}
	if _, err := s.conn.Write(data); err != nil {
		logger.Warnf("send packet: %v", err)
		return fmt.Errorf("send udp packet: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Further calls are no-ops.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	logger.Infof("closing connection to %s", s.conn.RemoteAddr())
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("close udp connection: %w", err)
	}
	return nil
}

var _ interface{ Close() error } = (*UDPSender)(nil)
