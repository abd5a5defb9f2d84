package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/metrics"
	"cdpbridge/internal/ringlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, timeout time.Duration) (*Client, *pipeConn, *ringlog.Logs) {
	t.Helper()
	pipe := newPipeConn()
	logs := ringlog.NewLogs(ringlog.DefaultCapacity)
	c := NewClient(pipe, logs, Options{CommandTimeout: timeout})
	t.Cleanup(func() { _ = c.Close() })
	return c, pipe, logs
}

func TestRepliesRoutedByIDRegardlessOfOrder(t *testing.T) {
	c, pipe, _ := newTestClient(t, 5*time.Second)
	const n = 25

	type result struct {
		N int `json:"n"`
	}
	var wg sync.WaitGroup
	got := make([]int, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, err := c.Send(context.Background(), "Test.echo", map[string]int{"n": i})
			if err != nil {
				errs[i] = err
				return
			}
			var r result
			errs[i] = json.Unmarshal(raw, &r)
			got[i] = r.N
		}(i)
	}

	reqs := make([]sentRequest, 0, n)
	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		req := pipe.next(t)
		require.False(t, seen[req.ID], "id %d reused", req.ID)
		seen[req.ID] = true
		reqs = append(reqs, req)
	}
	require.Equal(t, n, c.Pending())

	// Reply newest first so arrival order is the reverse of send order.
	for i := len(reqs) - 1; i >= 0; i-- {
		pipe.reply(reqs[i].ID, string(reqs[i].Params))
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, i, got[i], "caller %d received another caller's reply", i)
	}
	assert.Zero(t, c.Pending())
}

func TestTimeoutRemovesPendingAndDropsLateReply(t *testing.T) {
	c, pipe, _ := newTestClient(t, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "Page.slow", nil)
		done <- err
	}()
	req := pipe.next(t)

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, bridgeerr.ErrCommandTimeout))
	assert.Contains(t, err.Error(), "Page.slow")
	assert.Zero(t, c.Pending())

	// A late reply must be discarded and must not disturb later commands.
	pipe.reply(req.ID, `{"late":true}`)

	go func() {
		_, err := c.Send(context.Background(), "Page.fast", nil)
		done <- err
	}()
	next := pipe.next(t)
	assert.Greater(t, next.ID, req.ID)
	pipe.reply(next.ID, `{}`)
	require.NoError(t, <-done)
}

func sumMetric(t *testing.T, rec *metrics.Recorder, name string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
	}
	return total
}

func TestReplyRacingTimeoutResolvesOnce(t *testing.T) {
	const (
		rounds  = 60
		timeout = 10 * time.Millisecond
	)
	rec := metrics.New(false)
	pipe := newPipeConn()
	c := NewClient(pipe, ringlog.NewLogs(10), Options{CommandTimeout: timeout, Metrics: rec})
	t.Cleanup(func() { _ = c.Close() })

	var replied, timedOut int
	for i := 0; i < rounds; i++ {
		done := make(chan error, 2)
		go func() {
			_, err := c.Send(context.Background(), "Page.race", nil)
			done <- err
		}()
		req := pipe.next(t)
		// Land the reply just before, at, or just after the deadline.
		time.Sleep(timeout + time.Duration(i%5-2)*time.Millisecond)
		pipe.reply(req.ID, `{}`)

		err := <-done
		switch {
		case err == nil:
			replied++
		case errors.Is(err, bridgeerr.ErrCommandTimeout):
			timedOut++
		default:
			t.Fatalf("round %d: unexpected error %v", i, err)
		}
		select {
		case extra := <-done:
			t.Fatalf("round %d: second outcome %v", i, extra)
		default:
		}
		require.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, time.Millisecond)
	}

	assert.Equal(t, rounds, replied+timedOut)
	assert.Equal(t, float64(rounds), sumMetric(t, rec, "cdpbridge_commands_total"), "one outcome per command")
	assert.Zero(t, sumMetric(t, rec, "cdpbridge_pending_commands"))
	assert.True(t, c.Alive())
}

func TestErrorPayloadBecomesProtocolError(t *testing.T) {
	c, pipe, _ := newTestClient(t, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "DOM.getBoxModel", map[string]int{"nodeId": 9})
		done <- err
	}()
	req := pipe.next(t)
	pipe.deliver(fmt.Sprintf(`{"id":%d,"error":{"code":-32000,"message":"Could not compute box model."}}`, req.ID))

	err := <-done
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindProtocol, bridgeerr.KindOf(err))
	assert.Contains(t, err.Error(), "Could not compute box model.")
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	c, pipe, _ := newTestClient(t, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "Runtime.enable", nil)
		done <- err
	}()
	req := pipe.next(t)

	pipe.deliver(`not json`)
	pipe.deliver(`{}`)
	pipe.deliver(`{"id":"seven"}`)
	pipe.deliver(`[1,2,3]`)
	pipe.reply(req.ID, `{}`)

	require.NoError(t, <-done)
	assert.True(t, c.Alive())
}

func TestConnectionLossFailsPendingAndLaterSends(t *testing.T) {
	pipe := newPipeConn()
	c := NewClient(pipe, ringlog.NewLogs(10), Options{CommandTimeout: 5 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "Page.navigate", nil)
		done <- err
	}()
	pipe.next(t)
	require.NoError(t, c.Close())

	err := <-done
	assert.True(t, bridgeerr.IsConnectionError(err), "got %v", err)
	assert.False(t, c.Alive())

	_, err = c.Send(context.Background(), "Page.reload", nil)
	assert.True(t, bridgeerr.IsConnectionError(err), "got %v", err)
	assert.Zero(t, c.Pending())
}

func TestContextCancellationAbandonsCommand(t *testing.T) {
	c, pipe, _ := newTestClient(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Send(ctx, "Runtime.evaluate", nil)
		done <- err
	}()
	pipe.next(t)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, c.Pending())
}

func TestCallDecodesTypedResult(t *testing.T) {
	c, pipe, _ := newTestClient(t, time.Second)

	done := make(chan error, 1)
	var res proto.PageNavigateResult
	go func() {
		done <- c.Call(context.Background(), proto.PageNavigate{URL: "http://example.test"}, &res)
	}()
	req := pipe.next(t)
	assert.Equal(t, "Page.navigate", req.Method)
	var params struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "http://example.test", params.URL)

	pipe.reply(req.ID, `{"frameId":"F1","loaderId":"L1"}`)
	require.NoError(t, <-done)
	assert.Equal(t, proto.PageFrameID("F1"), res.FrameID)
}
