package binary

import (
	"errors"
	"io"
	"math"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(data)

	for i, want := range data {
		if r.Position() != i {
			t.Errorf("position before read %d: got %d", i, r.Position())
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	if _, err := r.ReadByte(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected unexpected EOF, got %v", err)
	}
}

func TestLEB128RoundTrip(t *testing.T) {
	unsigned := []uint64{0, 1, 127, 128, 255, 624485, math.MaxUint32, math.MaxUint64}
	for _, v := range unsigned {
		w := NewWriter()
		w.WriteU64(v)
		got, err := NewReader(w.Bytes()).ReadU64()
		if err != nil {
			t.Fatalf("ReadU64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("u64 round trip: got %d, want %d", got, v)
		}
	}

	signed := []int64{0, 1, -1, 63, -64, 64, -65, math.MinInt32, math.MaxInt32, math.MinInt64, math.MaxInt64}
	for _, v := range signed {
		w := NewWriter()
		w.WriteS64(v)
		got, err := NewReader(w.Bytes()).ReadS64()
		if err != nil {
			t.Fatalf("ReadS64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("s64 round trip: got %d, want %d", got, v)
		}
	}

	for _, v := range []int32{0, -1, 100, -100, math.MinInt32, math.MaxInt32} {
		w := NewWriter()
		w.WriteS32(v)
		got, err := NewReader(w.Bytes()).ReadS32()
		if err != nil {
			t.Fatalf("ReadS32(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("s32 round trip: got %d, want %d", got, v)
		}
	}
}

func TestReadU32Overflow(t *testing.T) {
	r := NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})
	if _, err := r.ReadU32(); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
}

func TestReadName(t *testing.T) {
	w := NewWriter()
	w.WriteName("memory")
	w.Byte(0x02)
	w.WriteBytes([]byte{0xff})

	r := NewReader(w.Bytes())
	name, err := r.ReadName()
	if err != nil || name != "memory" {
		t.Fatalf("ReadName = %q, %v", name, err)
	}

	bad := NewReader([]byte{0x01, 0xff})
	if _, err := bad.ReadName(); err == nil {
		t.Error("expected invalid UTF-8 error")
	}
}

func TestSubReaderPositions(t *testing.T) {
	r := NewReader([]byte{0xaa, 0x01, 0x02, 0x03, 0xbb})
	if _, err := r.ReadByte(); err != nil {
		t.Fatal(err)
	}
	sub, err := r.Sub(3)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Position() != 1 || sub.Len() != 3 {
		t.Errorf("sub position %d len %d", sub.Position(), sub.Len())
	}
	if b, _ := r.ReadByte(); b != 0xbb {
		t.Errorf("parent did not skip sub range, got 0x%02x", b)
	}
	if _, err := sub.ReadBytes(4); err == nil {
		t.Error("sub reader must not read past its range")
	}
}

func TestFixedWidth(t *testing.T) {
	w := NewWriter()
	w.WriteU32LE(0x01020304)
	w.WriteU64LE(0x0102030405060708)
	r := NewReader(w.Bytes())
	if v, _ := r.ReadU32LE(); v != 0x01020304 {
		t.Errorf("u32le = %x", v)
	}
	if v, _ := r.ReadU64LE(); v != 0x0102030405060708 {
		t.Errorf("u64le = %x", v)
	}
}
