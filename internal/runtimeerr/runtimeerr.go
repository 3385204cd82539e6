// Package runtimeerr defines the abstract error taxonomy shared by every
// component of the runtime: memory, namespace, cgroup, filesystem, process,
// permission, not-found, invalid, exists, and io.
package runtimeerr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error kinds from the runtime's error
// taxonomy. Callers use errors.As to recover it regardless of which
// component produced the error.
type Kind int

const (
	Unknown Kind = iota
	Memory
	Namespace
	Cgroup
	Filesystem
	Process
	Permission
	NotFound
	Invalid
	Exists
	IO
)

func (k Kind) String() string {
	switch k {
	case Memory:
		return "memory"
	case Namespace:
		return "namespace"
	case Cgroup:
		return "cgroup"
	case Filesystem:
		return "filesystem"
	case Process:
		return "process"
	case Permission:
		return "permission"
	case NotFound:
		return "not-found"
	case Invalid:
		return "invalid"
	case Exists:
		return "exists"
	case IO:
		return "io"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with an abstract Kind and the operation
// that produced it, so the caller sees only the abstract kind while the
// log still carries the kernel's errno text.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, runtimeerr.Sentinel(runtimeerr.Invalid)) work by
// comparing e.Kind with the Kind carried by a sentinel built by Sentinel.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return k.kind.String() }

// Sentinel returns a value usable with errors.Is(err, Sentinel(Cgroup)) to
// test the Kind of an *Error anywhere in err's chain.
func Sentinel(kind Kind) error {
	return &kindSentinel{kind: kind}
}

// KindOf extracts the Kind from err, returning Unknown if err does not
// carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
