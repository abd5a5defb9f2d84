package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpbridge/internal/browser"
)

var (
	_ Evaluator    = (*browser.Bridge)(nil)
	_ InitScripter = (*browser.Bridge)(nil)
)

type fakeEvaluator struct {
	replies map[string]string
	errs    map[string]error
	scripts []string
	inits   []string
}

func (f *fakeEvaluator) EvaluateValue(_ context.Context, script string) (json.RawMessage, error) {
	f.scripts = append(f.scripts, script)
	if err := f.errs[script]; err != nil {
		return nil, err
	}
	if r, ok := f.replies[script]; ok {
		return json.RawMessage(r), nil
	}
	return json.RawMessage("null"), nil
}

func (f *fakeEvaluator) AddInitScript(_ context.Context, source string) error {
	f.inits = append(f.inits, source)
	return nil
}

func TestRunRendersFindings(t *testing.T) {
	tests := []struct {
		kind  Kind
		reply string
		want  string
	}{
		{Accessibility, `["Found 2 images without alt text"]`, "Accessibility Audit Results:\nFound 2 images without alt text"},
		{Accessibility, `[]`, "Accessibility Audit Results:\nBasic accessibility checks passed"},
		{SEO, `["No H1 tag found","Missing canonical link"]`, "SEO Audit Results:\nNo H1 tag found\nMissing canonical link"},
		{BestPractices, `[]`, "Best Practices Audit Results:\nBest practices checks passed"},
		{NextJS, `["This does not appear to be a Next.js application"]`, "Next.js Audit Results:\nThis does not appear to be a Next.js application"},
		{Performance, `{"resourceCount":3}`, "Performance Audit Results:\n{\n  \"resourceCount\": 3\n}"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.reply, func(t *testing.T) {
			ev := &fakeEvaluator{replies: map[string]string{definitions[tt.kind].script: tt.reply}}
			rep, err := New(ev).Run(context.Background(), tt.kind)
			require.NoError(t, err)
			assert.False(t, rep.Failed())
			assert.Equal(t, tt.want, rep.String())
		})
	}
}

func TestRunFailure(t *testing.T) {
	ev := &fakeEvaluator{errs: map[string]error{seoScript: errors.New("cdp error: Target closed")}}
	rep, err := New(ev).Run(context.Background(), SEO)
	require.Error(t, err)
	assert.True(t, rep.Failed())
	assert.Equal(t, "SEO audit failed: cdp error: Target closed", rep.String())
}

func TestRunRejectsMalformedFindings(t *testing.T) {
	ev := &fakeEvaluator{replies: map[string]string{seoScript: `{"not":"a list"}`}}
	_, err := New(ev).Run(context.Background(), SEO)
	assert.ErrorContains(t, err, "decode seo findings")
}

func TestDebuggerInstallsInitScript(t *testing.T) {
	ev := &fakeEvaluator{replies: map[string]string{debuggerScript: `{"url":"https://example.com/","debugMode":true}`}}
	rep, err := New(ev).Run(context.Background(), Debugger)
	require.NoError(t, err)

	require.Equal(t, []string{debugInitScript}, ev.inits)
	assert.True(t, strings.HasPrefix(rep.String(), "Debugger Mode Results:\n"))
	assert.Contains(t, rep.String(), `"debugMode": true`)
}

func TestRunAllSummary(t *testing.T) {
	ev := &fakeEvaluator{
		replies: map[string]string{
			accessibilityScript: `[]`,
			seoScript:           `["No H1 tag found"]`,
			bestPracticesScript: `[]`,
			nextjsScript:        `[]`,
		},
		errs: map[string]error{performanceScript: errors.New("boom")},
	}
	c := New(ev).RunAll(context.Background())

	require.Len(t, c.Reports, 5)
	assert.False(t, c.Failed())
	assert.Equal(t, []string{accessibilityScript, performanceScript, seoScript, bestPracticesScript, nextjsScript}, ev.scripts)

	out := c.String()
	assert.True(t, strings.HasPrefix(out, "Comprehensive Audit Mode Results:\n\nSUMMARY:\n"+
		"accessibility: COMPLETED\nperformance: FAILED\nseo: COMPLETED\nbestPractices: COMPLETED\nnextjs: COMPLETED\n\nFULL REPORT:\n=== ACCESSIBILITY ===\n"))
	assert.Contains(t, out, "=== PERFORMANCE ===\nPerformance audit failed: boom")
	assert.Contains(t, out, "=== SEO ===\nSEO Audit Results:\nNo H1 tag found")
	assert.Empty(t, ev.inits)
}

func TestSelectedElement(t *testing.T) {
	ev := &fakeEvaluator{}
	el, err := New(ev).SelectedElement(context.Background())
	require.NoError(t, err)
	assert.Nil(t, el)

	ev.replies = map[string]string{selectedElementScript: `{"tagName":"INPUT","id":"q","className":"","textContent":"","value":"go","selector":"#q"}`}
	el, err = New(ev).SelectedElement(context.Background())
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "#q", el.Selector)
	require.NotNil(t, el.Value)
	assert.Equal(t, "go", *el.Value)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"seo", SEO, false},
		{"Best-Practices", BestPractices, false},
		{" nextjs ", NextJS, false},
		{"lighthouse", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Len(t, Kinds(), 6)
}
