//go:build !linux

package bluez

import (
	"context"
	"log/slog"
)

// Watcher is unavailable off Linux.
type Watcher struct{}

func NewWatcher(string, *slog.Logger) (*Watcher, error) {
	return nil, ErrUnsupported
}

func (w *Watcher) Powered() (bool, error) { return false, ErrUnsupported }

func (w *Watcher) Run(context.Context, PowerSink) error { return ErrUnsupported }
