// Package sample defines the pipeline's unit of data: one decoded delivery
// from one source, keyed by a composite timestamp, carrying a heterogeneous
// set of named typed-array columns.
package sample

import "fmt"

// Severity mirrors the upstream channel-access severity convention: 0-3 are
// normal operating levels, 4 marks a synthesized disconnect.
type Severity uint16

const (
	SeverityNoAlarm Severity = 0
	SeverityMinor   Severity = 1
	SeverityMajor   Severity = 2
	SeverityInvalid Severity = 3
	SeverityDisconnected Severity = 4
)

// Key is the 64-bit composite ordering key: seconds-since-epoch in the high
// 32 bits, nanoseconds in the low 32 bits. It is the sole ordering and
// alignment key used anywhere in the pipeline.
type Key uint64

// NewKey packs a (seconds, nanoseconds) pair into a composite Key.
func NewKey(seconds, nanoseconds uint32) Key {
	return Key(uint64(seconds)<<32 | uint64(nanoseconds))
}

// Seconds returns the high 32 bits of the key.
func (k Key) Seconds() uint32 {
	return uint32(k >> 32)
}

// Nanoseconds returns the low 32 bits of the key.
func (k Key) Nanoseconds() uint32 {
	return uint32(k)
}

// Zero reports whether this is the sentinel empty key (timestamp == 0).
func (k Key) Zero() bool {
	return k == 0
}

func (k Key) String() string {
	return fmt.Sprintf("%d.%09d", k.Seconds(), k.Nanoseconds())
}

// ColumnKind identifies the scalar element type carried by a Column.
type ColumnKind int

const (
	KindUint32 ColumnKind = iota
	KindInt32
	KindFloat64
	KindFloat32
	KindUint8
	KindString
)

func (k ColumnKind) String() string {
	switch k {
	case KindUint32:
		return "uint32"
	case KindInt32:
		return "int32"
	case KindFloat64:
		return "float64"
	case KindFloat32:
		return "float32"
	case KindUint8:
		return "uint8"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Column is a tagged union over the scalar array types a Sample (or an
// AggregateRecord output field) may carry. Exactly one of the typed slices
// is populated, selected by Kind; the others are nil.
type Column struct {
	Kind    ColumnKind
	Uint32  []uint32
	Int32   []int32
	Float64 []float64
	Float32 []float32
	Uint8   []uint8
	String  []string
}

// Len returns the element count of the populated slice.
func (c Column) Len() int {
	switch c.Kind {
	case KindUint32:
		return len(c.Uint32)
	case KindInt32:
		return len(c.Int32)
	case KindFloat64:
		return len(c.Float64)
	case KindFloat32:
		return len(c.Float32)
	case KindUint8:
		return len(c.Uint8)
	case KindString:
		return len(c.String)
	default:
		return 0
	}
}

// Append concatenates other onto c, returning the result. Both columns must
// share the same Kind; Append panics on a kind mismatch since this indicates
// a schema-derivation bug, not a runtime condition callers should recover
// from.
func (c Column) Append(other Column) Column {
	if c.Kind != other.Kind {
		panic(fmt.Sprintf("sample: column kind mismatch: %s vs %s", c.Kind, other.Kind))
	}
	switch c.Kind {
	case KindUint32:
		c.Uint32 = append(c.Uint32, other.Uint32...)
	case KindInt32:
		c.Int32 = append(c.Int32, other.Int32...)
	case KindFloat64:
		c.Float64 = append(c.Float64, other.Float64...)
	case KindFloat32:
		c.Float32 = append(c.Float32, other.Float32...)
	case KindUint8:
		c.Uint8 = append(c.Uint8, other.Uint8...)
	case KindString:
		c.String = append(c.String, other.String...)
	}
	return c
}

func ColumnUint32(v []uint32) Column   { return Column{Kind: KindUint32, Uint32: v} }
func ColumnInt32(v []int32) Column     { return Column{Kind: KindInt32, Int32: v} }
func ColumnFloat64(v []float64) Column { return Column{Kind: KindFloat64, Float64: v} }
func ColumnFloat32(v []float32) Column { return Column{Kind: KindFloat32, Float32: v} }
func ColumnUint8(v []uint8) Column     { return Column{Kind: KindUint8, Uint8: v} }
func ColumnString(v []string) Column   { return Column{Kind: KindString, String: v} }

// Value is the heterogeneous, ordered record of named columns a Sample
// carries. Column order is preserved (first-observed order matters for
// schema derivation, §3 Schema), so this is a slice of name/column pairs
// rather than a map.
type Value struct {
	names   []string
	columns []Column
}

// NewValue builds a Value from parallel name/column slices. The caller owns
// ordering; NewValue does not sort or deduplicate.
func NewValue(names []string, columns []Column) Value {
	return Value{names: names, columns: columns}
}

// Names returns the column names in first-observed order.
func (v Value) Names() []string {
	return v.names
}

// Get returns the column for name and whether it was present.
func (v Value) Get(name string) (Column, bool) {
	for i, n := range v.names {
		if n == name {
			return v.columns[i], true
		}
	}
	return Column{}, false
}

// Empty reports whether the value carries no columns, as a disconnected
// Sample's value does.
func (v Value) Empty() bool {
	return len(v.names) == 0
}

// Sample is one decoded delivery from one source.
//
// Invariants (enforced by the caller, typically subscription.Subscription):
// Timestamp is monotonically non-decreasing per source; a disconnected
// Sample carries Severity == SeverityDisconnected, an empty Value, and a
// locally generated Timestamp used only for bookkeeping.
type Sample struct {
	Timestamp Key
	Severity  Severity
	Status    uint16
	Value     Value
}

// Valid reports whether this is a real sample rather than the pop()
// sentinel (a zero Timestamp signals "queue empty").
func (s Sample) Valid() bool {
	return !s.Timestamp.Zero()
}

// Connected reports whether the sample indicates its source is currently
// connected (severity 0-3), per the Collector's completeness policy (§4.3).
func (s Sample) Connected() bool {
	return s.Severity <= SeverityInvalid
}

// Disconnect builds the synthesized disconnect Sample a Subscription
// enqueues on a down transition: severity 4, empty value, caller-supplied
// (wall-clock derived) bookkeeping timestamp.
func Disconnect(ts Key) Sample {
	return Sample{
		Timestamp: ts,
		Severity:  SeverityDisconnected,
		Value:     Value{},
	}
}
