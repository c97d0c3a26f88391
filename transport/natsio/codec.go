package natsio

import (
	"encoding/json"
	"fmt"

	"github.com/c360/bsasagg/sample"
	"github.com/c360/bsasagg/transport"
)

// wireColumn is the JSON encoding of one sample.Column: a name, its kind
// tag, and whichever typed slice field matches that kind.
type wireColumn struct {
	Name    string    `json:"name"`
	Kind    string    `json:"kind"`
	Uint32  []uint32  `json:"uint32,omitempty"`
	Int32   []int32   `json:"int32,omitempty"`
	Float64 []float64 `json:"float64,omitempty"`
	Float32 []float32 `json:"float32,omitempty"`
	Uint8   []uint8   `json:"uint8,omitempty"`
	String  []string  `json:"string,omitempty"`
}

func encodeColumn(name string, c sample.Column) wireColumn {
	w := wireColumn{Name: name, Kind: c.Kind.String()}
	switch c.Kind {
	case sample.KindUint32:
		w.Uint32 = c.Uint32
	case sample.KindInt32:
		w.Int32 = c.Int32
	case sample.KindFloat64:
		w.Float64 = c.Float64
	case sample.KindFloat32:
		w.Float32 = c.Float32
	case sample.KindUint8:
		w.Uint8 = c.Uint8
	case sample.KindString:
		w.String = c.String
	}
	return w
}

func decodeColumn(w wireColumn) (sample.Column, error) {
	switch w.Kind {
	case "uint32":
		return sample.ColumnUint32(w.Uint32), nil
	case "int32":
		return sample.ColumnInt32(w.Int32), nil
	case "float64":
		return sample.ColumnFloat64(w.Float64), nil
	case "float32":
		return sample.ColumnFloat32(w.Float32), nil
	case "uint8":
		return sample.ColumnUint8(w.Uint8), nil
	case "string":
		return sample.ColumnString(w.String), nil
	default:
		return sample.Column{}, fmt.Errorf("natsio: unknown column kind %q", w.Kind)
	}
}

// wireSample is the JSON wire shape of transport.RawSample: a nested value
// record, not a flat map, per the spec's resolved "nested-value" decode
// variant (column order must survive the wire round trip for schema
// derivation).
type wireSample struct {
	Timestamp uint64       `json:"timestamp"`
	Severity  uint16       `json:"severity"`
	Status    uint16       `json:"status"`
	Value     []wireColumn `json:"value,omitempty"`
}

// encodeRawSample marshals a transport.RawSample to its wire form.
func encodeRawSample(raw transport.RawSample) ([]byte, error) {
	names := raw.Value.Names()
	w := wireSample{
		Timestamp: uint64(raw.Timestamp),
		Severity:  uint16(raw.Severity),
		Status:    raw.Status,
		Value:     make([]wireColumn, 0, len(names)),
	}
	for _, name := range names {
		col, ok := raw.Value.Get(name)
		if !ok {
			continue
		}
		w.Value = append(w.Value, encodeColumn(name, col))
	}
	return json.Marshal(w)
}

// decodeRawSample unmarshals one NATS message body into a transport.RawSample.
func decodeRawSample(data []byte) (transport.RawSample, error) {
	var w wireSample
	if err := json.Unmarshal(data, &w); err != nil {
		return transport.RawSample{}, err
	}

	names := make([]string, 0, len(w.Value))
	columns := make([]sample.Column, 0, len(w.Value))
	for _, wc := range w.Value {
		col, err := decodeColumn(wc)
		if err != nil {
			return transport.RawSample{}, err
		}
		names = append(names, wc.Name)
		columns = append(columns, col)
	}

	return transport.RawSample{
		Timestamp: sample.Key(w.Timestamp),
		Severity:  sample.Severity(w.Severity),
		Status:    w.Status,
		Value:     sample.NewValue(names, columns),
	}, nil
}

// wireRecord is the JSON wire shape of one published AggregateRecord.
type wireRecord struct {
	Timestamp uint64       `json:"timestamp"`
	Alarm     uint16       `json:"alarm"`
	Columns   []wireColumn `json:"columns"`
}

// decodeRecord unmarshals one published AggregateRecord message, used by
// tests that observe what a Publisher sent without a full subscriber.
func decodeRecord(data []byte) (sample.Value, uint16, sample.Key, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return sample.Value{}, 0, 0, err
	}

	names := make([]string, 0, len(w.Columns))
	columns := make([]sample.Column, 0, len(w.Columns))
	for _, wc := range w.Columns {
		col, err := decodeColumn(wc)
		if err != nil {
			return sample.Value{}, 0, 0, err
		}
		names = append(names, wc.Name)
		columns = append(columns, col)
	}

	return sample.NewValue(names, columns), w.Alarm, sample.Key(w.Timestamp), nil
}

func encodeRecord(value sample.Value, alarm uint16, ts sample.Key) ([]byte, error) {
	names := value.Names()
	w := wireRecord{
		Timestamp: uint64(ts),
		Alarm:     alarm,
		Columns:   make([]wireColumn, 0, len(names)),
	}
	for _, name := range names {
		col, ok := value.Get(name)
		if !ok {
			continue
		}
		w.Columns = append(w.Columns, encodeColumn(name, col))
	}
	return json.Marshal(w)
}
