package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FaultKind classifies a failure so callers can decide between retrying,
// re-querying and giving up.
type FaultKind int

const (
	// FaultValidation rejects bad input before any broker call is made.
	FaultValidation FaultKind = iota
	// FaultRejected is a definitive broker refusal; retrying cannot help.
	FaultRejected
	// FaultTransient covers timeouts and connectivity; retry with backoff.
	FaultTransient
	// FaultAmbiguous means the outcome is unknown (e.g. a cancel racing a
	// fill); the caller must re-query order status, never assume.
	FaultAmbiguous
	// FaultCapacity is the risk gate refusing a new entry.
	FaultCapacity
	// FaultStaleData means a quote was unavailable; skip the tick, don't act.
	FaultStaleData
)

func (k FaultKind) String() string {
	switch k {
	case FaultValidation:
		return "validation"
	case FaultRejected:
		return "rejected"
	case FaultTransient:
		return "transient"
	case FaultAmbiguous:
		return "ambiguous"
	case FaultCapacity:
		return "capacity"
	case FaultStaleData:
		return "stale_data"
	default:
		return "unknown"
	}
}

// Fault wraps an underlying error with its classification and the operation
// that produced it.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// NewFault builds a classified broker fault.
func NewFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

// Faultf builds a classified fault from a format string.
func Faultf(kind FaultKind, op, format string, v ...any) *Fault {
	return &Fault{Kind: kind, Op: op, Err: fmt.Errorf(format, v...)}
}

// KindOf extracts the fault kind. Untyped network and deadline errors count
// as transient; everything else defaults to rejected.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, context.DeadlineExceeded) {
		return FaultTransient
	}
	return FaultRejected
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return err != nil && KindOf(err) == FaultTransient }

// IsAmbiguous reports whether the outcome of the call is unknown.
func IsAmbiguous(err error) bool { return err != nil && KindOf(err) == FaultAmbiguous }

// IsStale reports whether err marks an unusable quote.
func IsStale(err error) bool { return err != nil && KindOf(err) == FaultStaleData }
