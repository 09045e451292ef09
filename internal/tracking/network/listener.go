package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/expression.report/internal/tracking"
)

// Sink receives decoded frames. *tracking.Buffer implements it.
type Sink interface {
	Put(frames ...tracking.Frame)
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Stats       *PacketStats
	Sink        Sink
}

// UDPListener reads tracker datagrams and hands the decoded frames to a Sink.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	stats       *PacketStats
	sink        Sink
	conn        *net.UDPConn
}

// NewUDPListener creates a listener. Stats and LogInterval default when unset.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = NewPacketStats()
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		stats:       stats,
		sink:        config.Sink,
	}
}

// Listen binds the UDP socket. Serve must be called afterwards.
func (l *UDPListener) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			logf("warning: failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
		}
	}
	l.conn = conn
	logf("UDP listener bound to %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Stats returns the listener's counters.
func (l *UDPListener) Stats() *PacketStats { return l.stats }

// Start binds the socket and serves until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve reads datagrams until ctx is cancelled. The socket is closed on return.
func (l *UDPListener) Serve(ctx context.Context) error {
	if l.conn == nil {
		return errors.New("UDP listener is not bound")
	}
	conn := l.conn
	defer conn.Close()

	go l.logStats(ctx)

	buffer := make([]byte, 64*tracking.FaceRecordSize)
	for {
		select {
		case <-ctx.Done():
			logf("UDP listener stopping: %v", ctx.Err())
			return ctx.Err()
		default:
		}

		// The deadline lets the loop notice cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logf("UDP read error: %v", err)
			continue
		}
		if err := l.handlePacket(buffer[:n]); err != nil {
			logf("dropping packet from %v: %v", addr, err)
		}
	}
}

func (l *UDPListener) handlePacket(packet []byte) error {
	return deliver(packet, l.stats, l.sink)
}

func deliver(packet []byte, stats *PacketStats, sink Sink) error {
	stats.AddPacket(len(packet))
	frames, err := tracking.ParsePacket(packet)
	if err != nil {
		stats.AddDropped()
		return err
	}
	stats.AddFrames(len(frames))
	if sink != nil {
		sink.Put(frames...)
	}
	return nil
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// Close closes the socket if it is open.
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
