package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conduktor/kafka-connect-opentelemetry/pkg/otlp"
)

func msg(payload string) otlp.Message {
	return otlp.New(otlp.Traces, payload, 0)
}

func TestOfferRejectsOverCapacity(t *testing.T) {
	q := NewQueue(2)

	require.True(t, q.Offer(msg("a")))
	require.True(t, q.Offer(msg("b")))
	require.False(t, q.Offer(msg("c")), "N+1-th offer must be rejected at capacity")
	require.Equal(t, 2, q.Size())
}

func TestFIFOOrderingFromSingleProducer(t *testing.T) {
	q := NewQueue(10)

	require.True(t, q.Offer(msg("m1")))
	require.True(t, q.Offer(msg("m2")))

	first, ok := q.Poll(time.Second)
	require.True(t, ok)
	require.Equal(t, "m1", first.Payload)

	second, ok := q.Poll(time.Second)
	require.True(t, ok)
	require.Equal(t, "m2", second.Payload)
}

func TestPollTimesOutWhenEmpty(t *testing.T) {
	q := NewQueue(4)

	start := time.Now()
	_, ok := q.Poll(50 * time.Millisecond)
	elapsed := time.Since(start)

	require.False(t, ok)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestPollWakesImmediatelyOnOffer(t *testing.T) {
	q := NewQueue(4)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Offer(msg("late"))
	}()

	start := time.Now()
	m, ok := q.Poll(time.Second)
	elapsed := time.Since(start)

	require.True(t, ok)
	require.Equal(t, "late", m.Payload)
	require.Less(t, elapsed, 500*time.Millisecond)
}

func TestDrainUpToReturnsAtMostK(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 5; i++ {
		require.True(t, q.Offer(msg("x")))
	}

	drained := q.DrainUpTo(3)
	require.Len(t, drained, 3)
	require.Equal(t, 2, q.Size())

	rest := q.DrainUpTo(10)
	require.Len(t, rest, 2)
	require.Equal(t, 0, q.Size())
}

func TestOfferUnderConcurrentProducers(t *testing.T) {
	q := NewQueue(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Offer(msg("x"))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1000, q.Size())
}

func TestFabricSignalIsolation(t *testing.T) {
	f := NewFabric(1)

	require.True(t, f.For(otlp.Traces).Offer(msg("t")))
	require.False(t, f.For(otlp.Traces).Offer(msg("t2")), "traces queue should now be saturated")

	require.True(t, f.For(otlp.Metrics).Offer(msg("m")), "metrics queue must be unaffected by traces saturation")
	require.True(t, f.For(otlp.Logs).Offer(msg("l")), "logs queue must be unaffected by traces saturation")
}
