package cdp

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/cdptest"
	"cdpbridge/internal/ringlog"
)

func TestOpenAgainstFakeDevTools(t *testing.T) {
	srv := cdptest.New(t)
	url := srv.PageURL("PAGE1")

	logs := ringlog.NewLogs(10)
	c, err := Open(context.Background(), url, logs, Options{CommandTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	var res proto.RuntimeEvaluateResult
	require.NoError(t, c.Call(context.Background(), proto.RuntimeEvaluate{Expression: "1+1", ReturnByValue: true}, &res))
	require.NotNil(t, res.Result)
	assert.Equal(t, 2, res.Result.Value.Int())

	srv.Emit("Runtime.consoleAPICalled", map[string]interface{}{
		"type": "error",
		"args": []map[string]string{{"type": "string", "value": "from page"}},
	})
	require.Eventually(t, func() bool { return len(logs.ConsoleErrors()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "from page", logs.ConsoleErrors()[0].Text)
}

func TestDroppedSocketEndsClient(t *testing.T) {
	srv := cdptest.New(t)
	c, err := Open(context.Background(), srv.PageURL("PAGE1"), ringlog.NewLogs(10), Options{})
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return srv.Connections() == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, c.Err())
	srv.DropConnections()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the dropped socket")
	}
	assert.Error(t, c.Err())
	_, err = c.Send(context.Background(), "Page.enable", nil)
	assert.True(t, bridgeerr.IsConnectionError(err))
}

func TestDialFailureIsConnectionError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Dial(ctx, "ws://127.0.0.1:1/devtools/page/none")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindConnection, bridgeerr.KindOf(err))
}
