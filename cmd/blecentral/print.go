package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/chaz8081/blecentral/internal/config"
	"github.com/chaz8081/blecentral/internal/session"
)

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	services := "any"
	if len(cfg.Bluetooth.RequiredServices) > 0 {
		services = strings.Join(cfg.Bluetooth.RequiredServices, ",")
	}
	lists := "split"
	if !cfg.Bluetooth.SplitLists {
		lists = "unified"
	}
	fmt.Println("=== blecentral ===")
	fmt.Printf("  Services:  %s\n", services)
	fmt.Printf("  Lists:     %s\n", lists)
	fmt.Printf("  Reconnect: %v (max backoff %s)\n", cfg.Bluetooth.Reconnect.Enabled, cfg.Bluetooth.Reconnect.MaxBackoff())
	fmt.Printf("  Store:     %s\n", cfg.Store.Path)
	fmt.Printf("  HTTP:      %s\n", cfg.HTTP.Listen)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("==================")
}

// printSnapshot writes one line per peripheral.
func printSnapshot(w io.Writer, snap *session.Snapshot) {
	fmt.Fprintf(w, "power: %s, scanning: %v\n", snap.Power, snap.Scanning)
	all := append(append([]session.Peripheral{}, snap.Connected...), snap.Discovered...)
	if len(all) == 0 {
		fmt.Fprintln(w, "no peripherals found")
		return
	}
	for _, p := range all {
		rssi := "?"
		if p.RSSI != nil {
			rssi = fmt.Sprintf("%d", *p.RSSI)
		}
		fmt.Fprintf(w, "%s  %-13s  rssi %4s  %s\n", p.ID, p.State, rssi, p.Name)
	}
}
