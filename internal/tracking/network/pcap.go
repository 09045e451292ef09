package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReplayConfig controls a capture replay.
type ReplayConfig struct {
	// UDPPort keeps only datagrams sent to this port. Zero keeps all UDP.
	UDPPort int
	// Realtime sleeps between packets to reproduce the capture timing.
	Realtime bool
	// Speed scales Realtime pacing. Values <= 0 mean 1.
	Speed float64
	Stats *PacketStats
	Sink  Sink
}

// ReplayPCAP decodes tracker datagrams from a classic pcap stream. It returns
// nil at end of input and ctx.Err() on cancellation.
func ReplayPCAP(ctx context.Context, r io.Reader, cfg ReplayConfig) error {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open pcap stream: %w", err)
	}
	stats := cfg.Stats
	if stats == nil {
		stats = NewPacketStats()
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = 1
	}

	var (
		count     int
		firstCap  time.Time
		firstWall time.Time
	)
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			logf("pcap replay stopping after %d packets: %v", count, err)
			return err
		}

		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			logf("pcap replay complete: %d packets in %v", count, time.Since(start))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read pcap packet %d: %w", count+1, err)
		}
		count++

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.UDPPort != 0 && int(udp.DstPort) != cfg.UDPPort {
			continue
		}

		if cfg.Realtime {
			if firstCap.IsZero() {
				firstCap, firstWall = ci.Timestamp, time.Now()
			} else {
				due := firstWall.Add(time.Duration(float64(ci.Timestamp.Sub(firstCap)) / speed))
				if wait := time.Until(due); wait > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(wait):
					}
				}
			}
		}

		if err := deliver(udp.Payload, stats, cfg.Sink); err != nil {
			logf("pcap packet %d: %v", count, err)
		}
	}
}
