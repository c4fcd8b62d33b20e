package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-flow/internal/domain"
	"options-flow/internal/ingestion/stub"
)

func TestStreamRunner_IngestsUntilFeedCloses(t *testing.T) {
	p := newTestPipeline(t, false)
	feed := stub.NewStubPushFeed(8)
	logger := zerolog.Nop()

	runner := NewStreamRunner(StreamOptions{Feed: feed, Ingestor: p.ingestor, Logger: &logger})

	feed.Push(pushPayload(qqqCall, "6.00", 100, tradeMinute))
	feed.Push(`{"p":1}`)
	feed.Push(pushPayload(qqqPut, "4.00", 100, tradeMinute.Add(time.Second)))
	feed.Close()

	require.NoError(t, runner.Run(context.Background()))

	trades, err := p.trades.GetByUnderlying(context.Background(), "QQQ", 0, fixedNow.UnixMilli())
	require.NoError(t, err)
	require.Len(t, trades, 2)
	for _, tr := range trades {
		assert.Equal(t, domain.SourceStream, tr.Source)
	}
}

func TestStreamRunner_StopsOnCancel(t *testing.T) {
	p := newTestPipeline(t, false)
	feed := stub.NewStubPushFeed(1)
	logger := zerolog.Nop()

	runner := NewStreamRunner(StreamOptions{Feed: feed, Ingestor: p.ingestor, Logger: &logger})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	feed.Push(pushPayload(qqqCall, "6.00", 100, tradeMinute))
	require.Eventually(t, func() bool {
		trades, _ := p.trades.GetByUnderlying(context.Background(), "QQQ", 0, fixedNow.UnixMilli())
		return len(trades) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
