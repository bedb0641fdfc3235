package g3d

import (
	"errors"
	"fmt"
)

// Errors returned by the Gpu facade.
var (
	// ErrInvalidHandle is returned for handles that are invalid, null,
	// already freed, or unknown to this Gpu.
	ErrInvalidHandle = errors.New("g3d: invalid memory handle")

	// ErrNotDynamic is returned when writing to static memory.
	ErrNotDynamic = errors.New("g3d: memory is not dynamic")

	// ErrOutOfRange is returned when a write or view exceeds the allocation.
	ErrOutOfRange = errors.New("g3d: range exceeds allocation")

	// ErrInvalidView is returned when binding a view that does not exist
	// or whose memory has been reaped.
	ErrInvalidView = errors.New("g3d: invalid view")

	// ErrWrongKind is returned when a handle's resource kind does not fit
	// the operation, such as a texture view of a buffer.
	ErrWrongKind = errors.New("g3d: wrong resource kind")

	// ErrBindingMismatch is returned when a binding set does not match the
	// root signature it is applied with.
	ErrBindingMismatch = errors.New("g3d: bindings do not match root signature")

	// ErrNoRootSignature is returned by SetBindings before a root
	// signature has been set on the command list.
	ErrNoRootSignature = errors.New("g3d: no root signature set")

	// ErrCmdListState is returned when a command list operation is called
	// in the wrong open/closed state.
	ErrCmdListState = errors.New("g3d: command list in wrong state")

	// ErrNoBackend is returned when the configured backend is not registered.
	ErrNoBackend = errors.New("g3d: backend not available")

	// ErrNoAdapter is returned when the backend exposes no adapter.
	ErrNoAdapter = errors.New("g3d: no adapter found")

	// ErrClosed is returned by operations on a closed Gpu.
	ErrClosed = errors.New("g3d: gpu closed")
)

// fatal logs err and panics. It is the response to native failures on
// the per-frame path, which have no recovery.
func fatal(format string, args ...any) {
	err := fmt.Errorf(format, args...)
	slogger().Error("g3d: fatal", "err", err)
	panic(err)
}
