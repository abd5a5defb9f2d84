package bridgeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout names method", CommandTimeout("Page.navigate"), "cdp command timeout: Page.navigate"},
		{"protocol carries remote message", Protocol("DOM.getBoxModel", "Could not compute box model."), "cdp error: Could not compute box model.: DOM.getBoxModel"},
		{"element not found names selector", ElementNotFound("click", "#missing"), `click: element not found (selector "#missing")`},
		{"wrapped cause", Wrapf(KindConnection, errors.New("EOF"), "read frame"), "read frame: EOF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsMatchesSentinels(t *testing.T) {
	err := fmt.Errorf("outer: %w", CommandTimeout("Runtime.evaluate"))

	assert.True(t, errors.Is(err, ErrCommandTimeout))
	assert.False(t, errors.Is(err, ErrProtocol))
	assert.Equal(t, KindCommandTimeout, KindOf(err))
	assert.True(t, Is(err, KindCommandTimeout))
	assert.False(t, IsConnectionError(err))
}

func TestWithOpKeepsKind(t *testing.T) {
	base := CommandTimeout("DOM.getDocument")

	err := WithOp("click", base)
	require.Error(t, err)
	assert.Equal(t, KindCommandTimeout, KindOf(err))
	assert.Contains(t, err.Error(), "click: ")
	assert.Empty(t, base.Op, "original error must not be mutated")

	plain := WithOp("navigate", errors.New("boom"))
	assert.EqualError(t, plain, "navigate: boom")
	assert.Equal(t, KindUnknown, KindOf(plain))
	assert.NoError(t, WithOp("noop", nil))
}
