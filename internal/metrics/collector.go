package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/linkup/internal/clock"
	"grimm.is/linkup/internal/logging"
)

// DefaultSysfsRoot is where the kernel exposes per-link counters.
const DefaultSysfsRoot = "/sys/class/net"

// InterfaceStats holds traffic statistics for the supervised interface.
type InterfaceStats struct {
	Name      string `json:"name"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	RxErrors  uint64 `json:"rx_errors"`
	TxErrors  uint64 `json:"tx_errors"`
	RxDropped uint64 `json:"rx_dropped"`
	TxDropped uint64 `json:"tx_dropped"`
	LinkUp    bool   `json:"link_up"`
	Speed     uint64 `json:"speed_mbps,omitempty"`
}

// Collector samples sysfs counters for one interface into the registry.
type Collector struct {
	registry  *Registry
	logger    *logging.Logger
	iface     string
	interval  time.Duration
	sysfsRoot string

	mu         sync.RWMutex
	stats      InterfaceStats
	lastUpdate time.Time
}

// NewCollector creates a collector for iface. A nil registry uses Get().
func NewCollector(reg *Registry, logger *logging.Logger, iface string, interval time.Duration) *Collector {
	if reg == nil {
		reg = Get()
	}
	if logger == nil {
		logger = logging.WithComponent("metrics")
	}
	return &Collector{
		registry:  reg,
		logger:    logger,
		iface:     iface,
		interval:  interval,
		sysfsRoot: DefaultSysfsRoot,
		stats:     InterfaceStats{Name: iface},
	}
}

// SetSysfsRoot points the collector at another sysfs tree.
func (c *Collector) SetSysfsRoot(root string) {
	c.sysfsRoot = root
}

// Run samples until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Starting metrics collector", "interface", c.iface, "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-ctx.Done():
			c.logger.Info("Stopping metrics collector")
			return nil
		}
	}
}

// Collect reads the counters once and updates the gauges.
func (c *Collector) Collect() {
	base := filepath.Join(c.sysfsRoot, c.iface)
	if _, err := os.Stat(base); err != nil {
		c.logger.Debug("Interface not present in sysfs", "interface", c.iface, "error", err)
		return
	}

	stat := filepath.Join(base, "statistics")
	s := InterfaceStats{
		Name:      c.iface,
		RxBytes:   readSysUint64(filepath.Join(stat, "rx_bytes")),
		TxBytes:   readSysUint64(filepath.Join(stat, "tx_bytes")),
		RxPackets: readSysUint64(filepath.Join(stat, "rx_packets")),
		TxPackets: readSysUint64(filepath.Join(stat, "tx_packets")),
		RxErrors:  readSysUint64(filepath.Join(stat, "rx_errors")),
		TxErrors:  readSysUint64(filepath.Join(stat, "tx_errors")),
		RxDropped: readSysUint64(filepath.Join(stat, "rx_dropped")),
		TxDropped: readSysUint64(filepath.Join(stat, "tx_dropped")),
	}

	operstate, _ := os.ReadFile(filepath.Join(base, "operstate"))
	s.LinkUp = strings.TrimSpace(string(operstate)) == "up"

	// speed reads -1 or fails while the link is down
	if speed := readSysUint64(filepath.Join(base, "speed")); speed > 0 && speed < 1000000 {
		s.Speed = speed
	}

	r := c.registry
	r.InterfaceRxBytes.WithLabelValues(c.iface).Set(float64(s.RxBytes))
	r.InterfaceTxBytes.WithLabelValues(c.iface).Set(float64(s.TxBytes))
	r.InterfaceRxPackets.WithLabelValues(c.iface).Set(float64(s.RxPackets))
	r.InterfaceTxPackets.WithLabelValues(c.iface).Set(float64(s.TxPackets))
	r.InterfaceErrors.WithLabelValues(c.iface, "rx").Set(float64(s.RxErrors))
	r.InterfaceErrors.WithLabelValues(c.iface, "tx").Set(float64(s.TxErrors))
	if s.LinkUp {
		r.InterfaceUp.WithLabelValues(c.iface).Set(1)
	} else {
		r.InterfaceUp.WithLabelValues(c.iface).Set(0)
	}

	c.mu.Lock()
	c.stats = s
	c.lastUpdate = clock.Now()
	c.mu.Unlock()
}

// Stats returns the last sample.
func (c *Collector) Stats() InterfaceStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// LastUpdate returns when Collect last succeeded.
func (c *Collector) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// readSysUint64 reads a uint64 value from a sysfs file.
func readSysUint64(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	return val
}
