package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"grimm.is/linkup/internal/brand"
	"grimm.is/linkup/internal/config"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if configFile == "" {
		return fmt.Errorf("usage: %s check [-v] <config-file>", brand.BinaryName)
	}

	s, err := LoadSettings(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	Printer.Printf("Configuration valid!\n")
	Printer.Printf("Interface: %s (%s)\n", s.Interface.Identity(), s.Interface.Mode())

	if verbose {
		Printer.Println()
		printSummary(s)
	}
	return nil
}

func printSummary(s *config.Settings) {
	iface := s.Interface
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	row := func(k string, v any) { Printer.Fprintf(w, "%s\t%v\n", k, v) }

	row("description", iface.Description())
	if iface.HasMACOverride() {
		row("mac", iface.MAC())
	}
	if iface.Hostname() != "" {
		row("hostname", iface.Hostname())
	}
	if addr := iface.Address(); addr != nil {
		row("address", addr)
	}
	if gw := iface.Gateway(); gw != nil {
		row("gateway", gw)
	}
	if iface.Namespace() != "" {
		row("netns", iface.Namespace())
	}
	row("link timeout", iface.LinkTimeout())
	row("probe", fmt.Sprintf("%s x%d every %s, timeout %s, %d bytes",
		s.Probe.Target, s.Probe.Count, s.Probe.Interval, s.Probe.Timeout, s.Probe.Size))
	row("window", s.Window)
	if s.Keepalive > 0 {
		row("keepalive", s.Keepalive)
	} else {
		row("keepalive", config.KeepaliveOff)
	}
	if s.MetricsListen != "" {
		row("metrics", s.MetricsListen)
	}
}
