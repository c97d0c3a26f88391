package natsio

import (
	"context"
	"fmt"

	berrors "github.com/c360/bsasagg/errors"
	"github.com/c360/bsasagg/transport"
)

// Emitter publishes synthetic transport.RawSample deliveries onto a source's
// subject, the producer-side counterpart to Feed. Used by
// transport/demopublisher and integration tests, never by the core
// pipeline.
type Emitter struct {
	conn   *Conn
	source string
}

// NewEmitter creates an Emitter for source, bound to conn.
func NewEmitter(conn *Conn, source string) *Emitter {
	return &Emitter{conn: conn, source: source}
}

// Emit publishes one raw sample delivery to "bsas.<source>.samples".
func (e *Emitter) Emit(raw transport.RawSample) error {
	data, err := encodeRawSample(raw)
	if err != nil {
		return berrors.WrapInvalid(err, "Emitter", "Emit", "encode raw sample")
	}

	subject := fmt.Sprintf("bsas.%s.samples", e.source)
	if err := e.conn.client.Publish(context.Background(), subject, data); err != nil {
		return berrors.WrapTransient(err, "Emitter", "Emit", "publish raw sample")
	}
	return nil
}
