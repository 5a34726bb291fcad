//go:build linux

package bluez

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// Watcher follows Adapter1.Powered for one adapter.
type Watcher struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	log  *slog.Logger
}

// NewWatcher connects to the system bus and subscribes to property changes
// of the named adapter.
func NewWatcher(adapter string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	path := dbus.ObjectPath(ObjectPath(adapter))
	err = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: add match: %w", err)
	}
	return &Watcher{conn: conn, path: path, log: log}, nil
}

// Powered reads the current Powered property.
func (w *Watcher) Powered() (bool, error) {
	v, err := w.conn.Object(service, w.path).GetProperty(adapterIface + "." + poweredProperty)
	if err != nil {
		return false, fmt.Errorf("bluez: read %s: %w", poweredProperty, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: %s is %T, want bool", poweredProperty, v.Value())
	}
	return powered, nil
}

// Run reports the current state, then every change, until ctx is done.
func (w *Watcher) Run(ctx context.Context, sink PowerSink) error {
	defer w.conn.Close()

	signals := make(chan *dbus.Signal, 8)
	w.conn.Signal(signals)
	defer w.conn.RemoveSignal(signals)

	if powered, err := w.Powered(); err != nil {
		w.log.Warn("[BLE] bluez power read failed", "adapter", w.path, "error", err)
	} else {
		sink.SetPower(powerState(powered))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("bluez: signal channel closed")
			}
			if sig.Path != w.path || len(sig.Body) < 2 {
				continue
			}
			iface, _ := sig.Body[0].(string)
			variants, _ := sig.Body[1].(map[string]dbus.Variant)
			changed := make(map[string]any, len(variants))
			for k, v := range variants {
				changed[k] = v.Value()
			}
			if powered, ok := poweredChange(iface, changed); ok {
				w.log.Debug("[BLE] bluez power changed", "adapter", w.path, "powered", powered)
				sink.SetPower(powerState(powered))
			}
		}
	}
}
