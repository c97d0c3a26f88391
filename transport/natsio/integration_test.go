package natsio

import (
	"context"
	"testing"
	"time"

	"github.com/c360/bsasagg/config"
	"github.com/c360/bsasagg/controller"
	"github.com/c360/bsasagg/transport"
	"github.com/c360/bsasagg/transport/demopublisher"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/require"
)

func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()
	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("embedded NATS server did not become ready")
	}
	return ns
}

// TestEndToEndPipelinePublishesAlignedRecord wires
// demopublisher -> Subscription -> Collector -> Aggregator -> published
// record over a real, embedded NATS server, matching Scenario A: two
// aligned sources produce one published aggregate record per completed
// slice.
func TestEndToEndPipelinePublishesAlignedRecord(t *testing.T) {
	ns := startEmbeddedNATS(t)
	defer ns.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := Dial(ctx, ns.ClientURL())
	require.NoError(t, err)
	defer conn.Close(ctx)

	received := make(chan []byte, 16)
	err = conn.client.Subscribe(ctx, "bsas.agg.test", func(_ context.Context, data []byte) {
		received <- data
	})
	require.NoError(t, err)

	cfg := config.NewSafeConfig(config.Defaults())
	ctl := controller.New(cfg,
		func(name string) (transport.SourceFeed, error) {
			return NewFeed(conn, name), nil
		},
		func() (transport.Publisher, error) {
			return NewPublisher(conn, "test"), nil
		},
		nil,
	)
	ctl.AddSource("S1")
	ctl.AddSource("S2")
	require.NoError(t, ctl.Start(ctx))
	defer ctl.Close()

	gen1 := demopublisher.New(NewEmitter(conn, "S1"), 10*time.Millisecond)
	gen2 := demopublisher.New(NewEmitter(conn, "S2"), 10*time.Millisecond)
	go gen1.Run(ctx)
	go gen2.Run(ctx)

	select {
	case data := <-received:
		value, _, _, err := decodeRecord(data)
		require.NoError(t, err)
		names := value.Names()
		require.Contains(t, names, "S1_count")
		require.Contains(t, names, "S2_count")
		require.Contains(t, names, "secondsPastEpoch")
	case <-time.After(5 * time.Second):
		t.Fatal("no aggregate record published within timeout")
	}
}
