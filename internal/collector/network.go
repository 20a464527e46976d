package collector

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/net"
)

// NetworkSnapshot is a one-shot network counter reading. It is not part
// of model.Snapshot and is not stored in the history ring — §3's data
// model only rings CPU/RAM/disk/GPU — but GET /metrics and the relay's
// metrics push both report it alongside the ring snapshot.
type NetworkSnapshot struct {
	BytesSent     uint64  `json:"bytes_sent"`
	BytesRecv     uint64  `json:"bytes_received"`
	BytesSentMB   float64 `json:"bytes_sent_mb"`
	BytesRecvMB   float64 `json:"bytes_received_mb"`
}

// SampleNetwork reads cumulative network I/O counters across all
// interfaces.
func (c *Collector) SampleNetwork(ctx context.Context) (NetworkSnapshot, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return NetworkSnapshot{}, fmt.Errorf("collector: net io counters: %w", err)
	}
	if len(counters) == 0 {
		return NetworkSnapshot{}, nil
	}
	c0 := counters[0]
	return NetworkSnapshot{
		BytesSent:   c0.BytesSent,
		BytesRecv:   c0.BytesRecv,
		BytesSentMB: float64(c0.BytesSent) / (1024 * 1024),
		BytesRecvMB: float64(c0.BytesRecv) / (1024 * 1024),
	}, nil
}
