// Package natsio implements the transport.SourceFeed and transport.Publisher
// contracts over NATS core pub/sub, grounded on the teacher's
// natsclient.Client (circuit-breaker connection management, structured
// status, reconnect backoff). Source samples travel as JSON messages on
// subject "bsas.<source>.samples"; published aggregate records travel as
// JSON messages on subject "bsas.agg.<name>".
package natsio

import (
	"context"
	"fmt"
	"sync"

	"github.com/c360/bsasagg/natsclient"
	"github.com/google/uuid"
)

// Conn is one shared NATS connection, fanning the underlying client's
// health-change notifications out to every Feed bound to it. natsclient.Client
// only supports a single OnHealthChange callback, so Conn is the
// one-per-process registrant and redistributes the signal to each source's
// Feed, each of which reports connect/disconnect to its own Subscription.
type Conn struct {
	client *natsclient.Client

	mu        sync.Mutex
	listeners []func(bool)
}

// Dial creates a Conn and connects to the NATS server at url. The
// connection is given a unique name (visible in `nats server report
// connections`) so an operator can tell bsasagg instances apart on a
// shared NATS server.
func Dial(ctx context.Context, url string, opts ...natsclient.ClientOption) (*Conn, error) {
	name := fmt.Sprintf("bsasagg-%s", uuid.NewString())
	opts = append([]natsclient.ClientOption{natsclient.WithName(name)}, opts...)

	client, err := natsclient.NewClient(url, opts...)
	if err != nil {
		return nil, err
	}

	c := &Conn{client: client}
	client.OnHealthChange(c.dispatch)

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) dispatch(up bool) {
	c.mu.Lock()
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(up)
	}
}

func (c *Conn) addListener(fn func(bool)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// OnHealthChange registers fn to be called on every connection health
// transition, alongside whatever Feeds are already bound to this Conn. Used
// by callers that want to track connection health independently of any one
// source's Feed (e.g. a process-wide health monitor).
func (c *Conn) OnHealthChange(fn func(bool)) {
	c.addListener(fn)
}

// Healthy reports the current connection state, used by a newly started Feed
// to report its initial connect state without waiting for the next health
// transition.
func (c *Conn) Healthy() bool {
	return c.client.IsHealthy()
}

// Close drains and closes the underlying NATS connection.
func (c *Conn) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}
