package sample

import "testing"

func TestKeyPacking(t *testing.T) {
	k := NewKey(100, 250000000)
	if k.Seconds() != 100 {
		t.Fatalf("Seconds() = %d, want 100", k.Seconds())
	}
	if k.Nanoseconds() != 250000000 {
		t.Fatalf("Nanoseconds() = %d, want 250000000", k.Nanoseconds())
	}
	if NewKey(0, 0).Zero() != true {
		t.Fatal("zero key should report Zero() == true")
	}
	if k.Zero() {
		t.Fatal("non-zero key reported Zero() == true")
	}
}

func TestKeyOrdering(t *testing.T) {
	a := NewKey(10, 500)
	b := NewKey(10, 600)
	c := NewKey(11, 0)
	if !(a < b) {
		t.Fatal("expected a < b for same-second, later-nanosecond key")
	}
	if !(b < c) {
		t.Fatal("expected b < c across a second boundary")
	}
}

func TestColumnAppend(t *testing.T) {
	a := ColumnUint32([]uint32{1, 2, 3})
	b := ColumnUint32([]uint32{4, 5})
	got := a.Append(b)
	want := []uint32{1, 2, 3, 4, 5}
	if len(got.Uint32) != len(want) {
		t.Fatalf("Append length = %d, want %d", len(got.Uint32), len(want))
	}
	for i := range want {
		if got.Uint32[i] != want[i] {
			t.Fatalf("Append[%d] = %d, want %d", i, got.Uint32[i], want[i])
		}
	}
}

func TestColumnAppendKindMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on column kind mismatch")
		}
	}()
	ColumnUint32([]uint32{1}).Append(ColumnInt32([]int32{1}))
}

func TestValueGet(t *testing.T) {
	v := NewValue([]string{"count", "sum"}, []Column{
		ColumnUint32([]uint32{1, 2}),
		ColumnFloat64([]float64{3.5}),
	})

	col, ok := v.Get("sum")
	if !ok {
		t.Fatal("expected sum column to be present")
	}
	if col.Kind != KindFloat64 || col.Float64[0] != 3.5 {
		t.Fatalf("unexpected sum column: %+v", col)
	}

	if _, ok := v.Get("missing"); ok {
		t.Fatal("expected missing column lookup to fail")
	}
}

func TestSampleValidAndConnected(t *testing.T) {
	empty := Sample{}
	if empty.Valid() {
		t.Fatal("zero-timestamp Sample should be invalid (pop sentinel)")
	}

	s := Sample{Timestamp: NewKey(1, 0), Severity: SeverityMinor}
	if !s.Valid() {
		t.Fatal("non-zero-timestamp Sample should be valid")
	}
	if !s.Connected() {
		t.Fatal("severity 1 should be considered connected")
	}

	d := Disconnect(NewKey(2, 0))
	if d.Connected() {
		t.Fatal("disconnect sample should report Connected() == false")
	}
	if !d.Value.Empty() {
		t.Fatal("disconnect sample should carry an empty value")
	}
}
