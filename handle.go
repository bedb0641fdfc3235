package g3d

import (
	"fmt"
	"math"
)

// ResourceKind is the kind of GPU resource behind a handle.
type ResourceKind uint8

// Resource kinds.
const (
	KindBuffer ResourceKind = iota
	KindTexture
)

// String returns the kind name.
func (k ResourceKind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindTexture:
		return "texture"
	default:
		return fmt.Sprintf("ResourceKind(%d)", k)
	}
}

// Lifetime is the allocation class of a handle.
type Lifetime uint8

// Lifetimes.
const (
	// Static memory is uploaded once and never written again.
	Static Lifetime = iota

	// Dynamic memory has one copy per frame in flight and is rewritten
	// every frame it changes.
	Dynamic
)

// String returns the lifetime name.
func (l Lifetime) String() string {
	switch l {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("Lifetime(%d)", l)
	}
}

// Handle ids.
const (
	// MaxHandleID is the largest sequential id a Gpu hands out.
	MaxHandleID = math.MaxUint32 - 1

	nullID = math.MaxUint32
)

// Raw encoding tag bits. The id occupies the low 32 bits, so the tags
// never collide with it.
const (
	rawTextureBit = uint64(1) << 62
	rawDynamicBit = uint64(1) << 63
	rawIDMask     = uint64(math.MaxUint32)
	rawTagMask    = rawTextureBit | rawDynamicBit
)

// Handle identifies a memory allocation. It carries the allocation's
// kind and lifetime so callers can branch without a lookup.
//
// The zero value is InvalidHandle.
type Handle struct {
	id       uint32
	kind     ResourceKind
	lifetime Lifetime
}

// InvalidHandle is returned when an allocation fails softly.
var InvalidHandle = Handle{}

// NullHandle stands for "no memory", for example the memory of a null
// texture view. It is distinct from InvalidHandle.
var NullHandle = Handle{id: nullID}

func newHandle(id uint32, kind ResourceKind, lifetime Lifetime) Handle {
	return Handle{id: id, kind: kind, lifetime: lifetime}
}

// ID returns the sequential id.
func (h Handle) ID() uint32 { return h.id }

// Kind returns the resource kind.
func (h Handle) Kind() ResourceKind { return h.kind }

// Lifetime returns the allocation class.
func (h Handle) Lifetime() Lifetime { return h.lifetime }

// IsDynamic reports whether h is dynamic memory.
func (h Handle) IsDynamic() bool { return h.lifetime == Dynamic }

// Valid reports whether h may refer to an allocation.
func (h Handle) Valid() bool { return h.id != 0 && h.id != nullID }

// IsNull reports whether h is NullHandle.
func (h Handle) IsNull() bool { return h.id == nullID }

// String returns a debug representation.
func (h Handle) String() string {
	switch {
	case h.IsNull():
		return "Handle(null)"
	case !h.Valid():
		return "Handle(invalid)"
	}
	return fmt.Sprintf("Handle(%d %s %s)", h.id, h.lifetime, h.kind)
}

// Raw packs h into an integer: the id in the low 32 bits, the texture
// flag in bit 62 and the dynamic flag in bit 63. It is meant for
// interop and sort keys; Handle itself is the API type.
func (h Handle) Raw() uint64 {
	v := uint64(h.id)
	if h.kind == KindTexture {
		v |= rawTextureBit
	}
	if h.lifetime == Dynamic {
		v |= rawDynamicBit
	}
	return v
}

// HandleFromRaw decodes a value produced by Raw. Values with bits set
// outside the id and tag fields decode to InvalidHandle.
func HandleFromRaw(v uint64) Handle {
	if v&^(rawIDMask|rawTagMask) != 0 {
		return InvalidHandle
	}
	h := Handle{id: uint32(v & rawIDMask)} //nolint:gosec // G115: masked to 32 bits
	if v&rawTextureBit != 0 {
		h.kind = KindTexture
	}
	if v&rawDynamicBit != 0 {
		h.lifetime = Dynamic
	}
	return h
}

// ViewHandle identifies a view created by the Gpu. The zero value is
// InvalidView.
type ViewHandle struct {
	id uint32
}

// InvalidView is the zero ViewHandle.
var InvalidView = ViewHandle{}

// ID returns the sequential id.
func (v ViewHandle) ID() uint32 { return v.id }

// Valid reports whether v may refer to a view.
func (v ViewHandle) Valid() bool { return v.id != 0 }

// String returns a debug representation.
func (v ViewHandle) String() string {
	if !v.Valid() {
		return "View(invalid)"
	}
	return fmt.Sprintf("View(%d)", v.id)
}
