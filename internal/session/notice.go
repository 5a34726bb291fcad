package session

import (
	"github.com/chaz8081/blecentral/internal/ble"
	"github.com/chaz8081/blecentral/internal/ble/gatt"
)

// NoticeKind classifies a Notice.
type NoticeKind int

const (
	// NoticeAdapterUnavailable: the adapter cannot be used. Err wraps
	// ErrAdapterUnavailable.
	NoticeAdapterUnavailable NoticeKind = iota
	// NoticeOperationFailed: Err is an *OperationError.
	NoticeOperationFailed
	// NoticeDisconnected: a peripheral dropped. Err is the link error, if any.
	NoticeDisconnected
	// NoticeChainCompleted: every descriptor discovery chained for Service
	// has completed.
	NoticeChainCompleted
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeAdapterUnavailable:
		return "adapterUnavailable"
	case NoticeOperationFailed:
		return "operationFailed"
	case NoticeDisconnected:
		return "disconnected"
	case NoticeChainCompleted:
		return "chainCompleted"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k NoticeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Notice is something a presentation layer should tell the user about.
// Notices never carry stale-event drops.
type Notice struct {
	Kind    NoticeKind
	ID      ble.Identity
	Service gatt.ServiceRef
	Err     error
}

// report queues n for Notices without blocking the loop. When the buffer is
// full the oldest notice is dropped.
func (s *Session) report(n Notice) {
	select {
	case s.notices <- n:
		return
	default:
	}
	s.log.Warn("[SESSION] notice buffer full, dropping oldest")
	select {
	case <-s.notices:
	default:
	}
	select {
	case s.notices <- n:
	default:
	}
}

func (s *Session) reportOp(id ble.Identity, op Op, err error) {
	s.log.Warn("[SESSION] operation failed", "op", op, "peripheral", id, "error", err)
	s.report(Notice{Kind: NoticeOperationFailed, ID: id, Err: opError(id, op, err)})
}
