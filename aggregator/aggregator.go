// Package aggregator derives an output schema from the first completed
// Slice batch of an epoch and republishes each subsequent batch as one
// tabular AggregateRecord, per spec §4.4.
package aggregator

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360/bsasagg/collector"
	berrors "github.com/c360/bsasagg/errors"
	"github.com/c360/bsasagg/sample"
	"github.com/c360/bsasagg/transport"
)

// State is the Aggregator's schema lifecycle state.
type State int

const (
	NeedRetype State = iota
	RetypeInProgress
	Run
)

func (s State) String() string {
	switch s {
	case NeedRetype:
		return "NeedRetype"
	case RetypeInProgress:
		return "RetypeInProgress"
	case Run:
		return "Run"
	default:
		return "unknown"
	}
}

type outputColumn struct {
	label        string
	kind         sample.ColumnKind
	sourceIndex  int // -1 for the two bookkeeping columns
	sourceColumn string
	bookkeeping  string // "seconds" | "nanoseconds" | ""
}

// Schema is the derived, ordered set of output columns for one epoch.
type Schema struct {
	columns []outputColumn
}

// Labels returns the ordered output column names.
func (s *Schema) Labels() []string {
	labels := make([]string, len(s.columns))
	for i, c := range s.columns {
		labels[i] = c.label
	}
	return labels
}

// deriveSchema implements the §3 Schema rule: for each source's first
// observed Sample in batch[0], one output column per non-"seconds"-named
// input column, plus the two always-present bookkeeping columns.
func deriveSchema(sourceNames []string, batch []collector.Completed) (*Schema, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("aggregator: cannot derive schema from an empty batch")
	}

	first := batch[0]
	var columns []outputColumn
	for i, name := range sourceNames {
		if i >= len(first.Sources) {
			continue
		}
		v := first.Sources[i]
		if !v.Valid() {
			continue
		}
		for _, colName := range v.Value.Names() {
			if strings.Contains(colName, "seconds") {
				continue
			}
			col, ok := v.Value.Get(colName)
			if !ok {
				continue
			}
			columns = append(columns, outputColumn{
				label:        name + "_" + colName,
				kind:         col.Kind,
				sourceIndex:  i,
				sourceColumn: colName,
			})
		}
	}

	columns = append(columns,
		outputColumn{label: "secondsPastEpoch", kind: sample.KindUint32, sourceIndex: -1, bookkeeping: "seconds"},
		outputColumn{label: "nanoseconds", kind: sample.KindUint32, sourceIndex: -1, bookkeeping: "nanoseconds"},
	)

	return &Schema{columns: columns}, nil
}

func zeroColumn(kind sample.ColumnKind) sample.Column {
	switch kind {
	case sample.KindUint32:
		return sample.ColumnUint32(nil)
	case sample.KindInt32:
		return sample.ColumnInt32(nil)
	case sample.KindFloat64:
		return sample.ColumnFloat64(nil)
	case sample.KindFloat32:
		return sample.ColumnFloat32(nil)
	case sample.KindUint8:
		return sample.ColumnUint8(nil)
	case sample.KindString:
		return sample.ColumnString(nil)
	default:
		return sample.Column{}
	}
}

// Aggregator holds the current output schema for one outbound aggregate
// channel and publishes one AggregateRecord per Aggregate call.
type Aggregator struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State

	sourceNames []string
	schema      *Schema

	publisher transport.Publisher
	logger    *slog.Logger
}

// New creates an Aggregator publishing through publisher. Initial state is
// NeedRetype until the first source-list Reset and completed batch.
func New(publisher transport.Publisher, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		state:     NeedRetype,
		publisher: publisher,
		logger:    logger,
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// State returns the current lifecycle state, for tests.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reset returns the Aggregator to NeedRetype and wipes the cached schema,
// called by the Collector on source-list change or first attachment.
func (a *Aggregator) Reset(sourceNames []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sourceNames = append([]string(nil), sourceNames...)
	a.schema = nil
	a.state = NeedRetype
}

// Aggregate implements collector.Aggregator. On the first call while
// NeedRetype it derives and opens the schema, then (whether or not this
// call performed the retype) concatenates batch's per-source columns into
// one AggregateRecord and publishes it.
func (a *Aggregator) Aggregate(batch []collector.Completed) error {
	a.mu.Lock()
	switch a.state {
	case NeedRetype:
		a.state = RetypeInProgress
		sourceNames := append([]string(nil), a.sourceNames...)
		a.mu.Unlock()

		schema, err := deriveSchema(sourceNames, batch)
		if err != nil {
			a.mu.Lock()
			a.state = NeedRetype
			a.cond.Broadcast()
			a.mu.Unlock()
			return berrors.WrapInvalid(err, "aggregator", "Aggregate", "derive schema")
		}
		if err := a.publisher.Open(schema.Labels()); err != nil {
			a.mu.Lock()
			a.state = NeedRetype
			a.cond.Broadcast()
			a.mu.Unlock()
			return berrors.WrapTransient(err, "aggregator", "Aggregate", "open published channel")
		}

		a.mu.Lock()
		a.schema = schema
		a.state = Run
		a.cond.Broadcast()
		a.mu.Unlock()

	case RetypeInProgress:
		for a.state == RetypeInProgress {
			a.cond.Wait()
		}
		a.mu.Unlock()

	case Run:
		a.mu.Unlock()
	}

	return a.publishBatch(batch)
}

// publishBatch concatenates batch's columns per the current schema and
// publishes the resulting AggregateRecord.
func (a *Aggregator) publishBatch(batch []collector.Completed) error {
	a.mu.Lock()
	schema := a.schema
	a.mu.Unlock()

	if schema == nil {
		return berrors.WrapInvalid(berrors.ErrSchemaBuild, "aggregator", "publishBatch", "no schema available")
	}

	labels := make([]string, len(schema.columns))
	columns := make([]sample.Column, len(schema.columns))

	for idx, oc := range schema.columns {
		labels[idx] = oc.label

		if oc.sourceIndex == -1 {
			vals := make([]uint32, len(batch))
			for i, c := range batch {
				if oc.bookkeeping == "seconds" {
					vals[i] = c.Key.Seconds()
				} else {
					vals[i] = c.Key.Nanoseconds()
				}
			}
			columns[idx] = sample.ColumnUint32(vals)
			continue
		}

		acc := zeroColumn(oc.kind)
		for _, c := range batch {
			if oc.sourceIndex >= len(c.Sources) {
				continue
			}
			sv := c.Sources[oc.sourceIndex]
			if !sv.Valid() {
				continue
			}
			col, ok := sv.Value.Get(oc.sourceColumn)
			if !ok {
				continue
			}
			acc = acc.Append(col)
		}
		columns[idx] = acc
	}

	value := sample.NewValue(labels, columns)
	lastKey := batch[len(batch)-1].Key

	if err := a.publisher.Post(labels, value, 0, lastKey, labels); err != nil {
		a.logger.Error("aggregate publish failed", "error", err)
		return berrors.WrapTransient(err, "aggregator", "publishBatch", "post record")
	}
	return nil
}
