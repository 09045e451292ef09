// Package network receives tracker datagrams over UDP or from a packet
// capture and feeds the decoded frames into a tracking buffer.
package network

import (
	"sync"
	"time"

	"github.com/banshee-data/expression.report/internal/monitoring"
)

var logf = monitoring.Component("network")

// PacketStats counts received, rejected and decoded tracker datagrams.
type PacketStats struct {
	mu        sync.Mutex
	packets   int64
	bytes     int64
	dropped   int64
	frames    int64
	lastReset time.Time
}

// NewPacketStats creates an empty counter set.
func NewPacketStats() *PacketStats {
	return &PacketStats{lastReset: time.Now()}
}

// AddPacket records one received datagram of n bytes.
func (ps *PacketStats) AddPacket(n int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.packets++
	ps.bytes += int64(n)
}

// AddDropped records a datagram that failed to decode.
func (ps *PacketStats) AddDropped() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.dropped++
}

// AddFrames records decoded face frames.
func (ps *PacketStats) AddFrames(n int) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.frames += int64(n)
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Packets int64 `json:"packets"`
	Bytes   int64 `json:"bytes"`
	Dropped int64 `json:"dropped"`
	Frames  int64 `json:"frames"`
}

// Snapshot returns the counters without resetting them.
func (ps *PacketStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return StatsSnapshot{Packets: ps.packets, Bytes: ps.bytes, Dropped: ps.dropped, Frames: ps.frames}
}

// LogStats logs the rates since the previous call and resets the counters.
func (ps *PacketStats) LogStats() {
	ps.mu.Lock()
	snap := StatsSnapshot{Packets: ps.packets, Bytes: ps.bytes, Dropped: ps.dropped, Frames: ps.frames}
	elapsed := time.Since(ps.lastReset).Seconds()
	ps.packets, ps.bytes, ps.dropped, ps.frames = 0, 0, 0, 0
	ps.lastReset = time.Now()
	ps.mu.Unlock()

	if elapsed <= 0 || snap.Packets == 0 && snap.Dropped == 0 {
		return
	}
	logf("%.1f pkt/s, %.1f frames/s, %d dropped, %d bytes",
		float64(snap.Packets)/elapsed, float64(snap.Frames)/elapsed, snap.Dropped, snap.Bytes)
}
