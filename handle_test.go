package g3d

import (
	"testing"
)

func TestHandleRawRoundTrip(t *testing.T) {
	ids := []uint32{1, 2, 0xFFFF, 1 << 31, MaxHandleID}
	for _, id := range ids {
		for _, kind := range []ResourceKind{KindBuffer, KindTexture} {
			for _, lifetime := range []Lifetime{Static, Dynamic} {
				h := newHandle(id, kind, lifetime)
				got := HandleFromRaw(h.Raw())
				if got != h {
					t.Errorf("HandleFromRaw(%#x) = %v, want %v", h.Raw(), got, h)
				}
				if got.ID() != id || got.Kind() != kind || got.Lifetime() != lifetime {
					t.Errorf("decoded (%d, %s, %s), want (%d, %s, %s)",
						got.ID(), got.Kind(), got.Lifetime(), id, kind, lifetime)
				}
				if got.IsDynamic() != (lifetime == Dynamic) {
					t.Errorf("IsDynamic() = %v for %s", got.IsDynamic(), lifetime)
				}
				if !got.Valid() || got.IsNull() {
					t.Errorf("%v: Valid() = %v, IsNull() = %v", got, got.Valid(), got.IsNull())
				}
			}
		}
	}
}

func TestHandleTagsDoNotOverlapID(t *testing.T) {
	h := newHandle(MaxHandleID, KindTexture, Dynamic)
	if h.Raw()&rawIDMask != uint64(MaxHandleID) {
		t.Errorf("id bits = %#x, want %#x", h.Raw()&rawIDMask, MaxHandleID)
	}
	plain := newHandle(MaxHandleID, KindBuffer, Static)
	if plain.Raw()&rawTagMask != 0 {
		t.Errorf("static buffer has tag bits set: %#x", plain.Raw())
	}
}

func TestHandleSentinels(t *testing.T) {
	tests := []struct {
		name      string
		h         Handle
		wantValid bool
		wantNull  bool
		wantStr   string
	}{
		{"invalid", InvalidHandle, false, false, "Handle(invalid)"},
		{"null", NullHandle, false, true, "Handle(null)"},
		{"zero value", Handle{}, false, false, "Handle(invalid)"},
		{"dynamic buffer", newHandle(7, KindBuffer, Dynamic), true, false, "Handle(7 dynamic buffer)"},
		{"static texture", newHandle(9, KindTexture, Static), true, false, "Handle(9 static texture)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.h.Valid(); got != tt.wantValid {
				t.Errorf("Valid() = %v, want %v", got, tt.wantValid)
			}
			if got := tt.h.IsNull(); got != tt.wantNull {
				t.Errorf("IsNull() = %v, want %v", got, tt.wantNull)
			}
			if got := tt.h.String(); got != tt.wantStr {
				t.Errorf("String() = %q, want %q", got, tt.wantStr)
			}
		})
	}
	if InvalidHandle == NullHandle {
		t.Error("InvalidHandle and NullHandle must differ")
	}
	if HandleFromRaw(NullHandle.Raw()) != NullHandle {
		t.Error("NullHandle does not survive Raw round trip")
	}
}

func TestHandleFromRawRejectsStrayBits(t *testing.T) {
	for _, v := range []uint64{1 << 32, 1 << 40, 1<<61 | 5} {
		if got := HandleFromRaw(v); got != InvalidHandle {
			t.Errorf("HandleFromRaw(%#x) = %v, want InvalidHandle", v, got)
		}
	}
}

func TestViewHandle(t *testing.T) {
	if InvalidView.Valid() {
		t.Error("InvalidView.Valid() = true")
	}
	v := ViewHandle{id: 3}
	if !v.Valid() || v.ID() != 3 || v.String() != "View(3)" {
		t.Errorf("ViewHandle{3}: Valid %v, ID %d, String %q", v.Valid(), v.ID(), v.String())
	}
}
