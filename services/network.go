package services

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// ProbeNetwork treats the network as up while a TCP connection to addr can
// be opened. The host OS owns the link itself, so Connect only logs.
type ProbeNetwork struct {
	addr    string
	timeout time.Duration
	logger  *zap.Logger
	dial    func(network, address string, timeout time.Duration) (net.Conn, error)
}

// NewProbeNetwork creates a probe against addr (host:port).
func NewProbeNetwork(addr string, timeout time.Duration, logger *zap.Logger) *ProbeNetwork {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &ProbeNetwork{
		addr:    addr,
		timeout: timeout,
		logger:  logger,
		dial:    net.DialTimeout,
	}
}

// Connect only logs; it fails if ctx is already done.
func (n *ProbeNetwork) Connect(ctx context.Context) error {
	n.logger.Debug("Waiting for network", zap.String("probe", n.addr))
	return ctx.Err()
}

// Connected dials the probe address once.
func (n *ProbeNetwork) Connected() bool {
	if n.addr == "" {
		return true
	}

	conn, err := n.dial("tcp", n.addr, n.timeout)
	if err != nil {
		n.logger.Debug("Network probe failed", zap.String("probe", n.addr), zap.Error(err))
		return false
	}
	_ = conn.Close()
	return true
}
