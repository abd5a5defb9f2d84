// Package audit runs read-only page inspections (accessibility, SEO,
// performance and friends) through an evaluator.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cdpbridge/internal/logging"
)

// Kind names one audit.
type Kind string

const (
	Accessibility Kind = "accessibility"
	Performance   Kind = "performance"
	SEO           Kind = "seo"
	BestPractices Kind = "best_practices"
	NextJS        Kind = "nextjs"
	Debugger      Kind = "debugger"
)

type definition struct {
	heading string
	failure string
	script  string
	metrics bool
	passed  string
	label   string
}

var definitions = map[Kind]definition{
	Accessibility: {heading: "Accessibility Audit", failure: "Accessibility audit", script: accessibilityScript, passed: "Basic accessibility checks passed", label: "accessibility"},
	Performance:   {heading: "Performance Audit", failure: "Performance audit", script: performanceScript, metrics: true, label: "performance"},
	SEO:           {heading: "SEO Audit", failure: "SEO audit", script: seoScript, passed: "Basic SEO checks passed", label: "seo"},
	BestPractices: {heading: "Best Practices Audit", failure: "Best practices audit", script: bestPracticesScript, passed: "Best practices checks passed", label: "bestPractices"},
	NextJS:        {heading: "Next.js Audit", failure: "Next.js audit", script: nextjsScript, passed: "Next.js specific checks passed", label: "nextjs"},
	Debugger:      {heading: "Debugger Mode", failure: "Debugger mode", script: debuggerScript, metrics: true, label: "debugger"},
}

// combinedOrder is the sequence RunAll uses.
var combinedOrder = []Kind{Accessibility, Performance, SEO, BestPractices, NextJS}

// Kinds returns every supported audit.
func Kinds() []Kind {
	return []Kind{Accessibility, Performance, SEO, BestPractices, NextJS, Debugger}
}

// ParseKind accepts the audit names used by the CLI and tool server.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_"))
	if _, ok := definitions[k]; !ok {
		return "", fmt.Errorf("unknown audit %q", name)
	}
	return k, nil
}

// Evaluator runs a script in the page and returns its JSON value.
type Evaluator interface {
	EvaluateValue(ctx context.Context, script string) (json.RawMessage, error)
}

// InitScripter installs a script for future documents. Debugger mode uses
// it when the evaluator supports it.
type InitScripter interface {
	AddInitScript(ctx context.Context, source string) error
}

// Report is the outcome of one audit.
type Report struct {
	Kind     Kind
	Findings []string
	Metrics  json.RawMessage
	Err      error
}

// Failed reports whether the audit could not run.
func (r Report) Failed() bool { return r.Err != nil }

// String renders the report as plain text.
func (r Report) String() string {
	def := definitions[r.Kind]
	if r.Err != nil {
		return fmt.Sprintf("%s failed: %v", def.failure, r.Err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s Results:\n", def.heading)
	if def.metrics {
		var out bytes.Buffer
		if err := json.Indent(&out, r.Metrics, "", "  "); err != nil {
			b.Write(r.Metrics)
		} else {
			b.Write(out.Bytes())
		}
		return b.String()
	}
	findings := r.Findings
	if len(findings) == 0 {
		findings = []string{def.passed}
	}
	b.WriteString(strings.Join(findings, "\n"))
	return b.String()
}

// Combined is the result of RunAll.
type Combined struct {
	Reports []Report
}

// Failed reports whether every audit failed.
func (c Combined) Failed() bool {
	for _, r := range c.Reports {
		if !r.Failed() {
			return false
		}
	}
	return len(c.Reports) > 0
}

// String renders the summary followed by each full report.
func (c Combined) String() string {
	var b strings.Builder
	b.WriteString("Comprehensive Audit Mode Results:\n\nSUMMARY:\n")
	for i, r := range c.Reports {
		status := "COMPLETED"
		if r.Failed() {
			status = "FAILED"
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", definitions[r.Kind].label, status)
	}
	b.WriteString("\n\nFULL REPORT:")
	for i, r := range c.Reports {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "\n=== %s ===\n%s", strings.ToUpper(definitions[r.Kind].label), r.String())
	}
	return b.String()
}

// Orchestrator runs audits against one evaluator.
type Orchestrator struct {
	ev Evaluator
}

// New returns an Orchestrator using ev.
func New(ev Evaluator) *Orchestrator {
	return &Orchestrator{ev: ev}
}

// Run executes one audit. A failed evaluation is returned both as the
// error and in the report.
func (o *Orchestrator) Run(ctx context.Context, kind Kind) (Report, error) {
	def, ok := definitions[kind]
	if !ok {
		return Report{}, fmt.Errorf("unknown audit %q", kind)
	}
	log := logging.Get(logging.CategoryAudit)
	rep := Report{Kind: kind}

	if kind == Debugger {
		if is, ok := o.ev.(InitScripter); ok {
			if err := is.AddInitScript(ctx, debugInitScript); err != nil {
				rep.Err = err
				return rep, err
			}
		}
	}

	raw, err := o.ev.EvaluateValue(ctx, def.script)
	if err != nil {
		log.Warn("%s audit failed: %v", kind, err)
		rep.Err = err
		return rep, err
	}
	if def.metrics {
		rep.Metrics = raw
	} else if err := json.Unmarshal(raw, &rep.Findings); err != nil {
		rep.Err = fmt.Errorf("decode %s findings: %w", kind, err)
		return rep, rep.Err
	}
	log.Debug("%s audit: %d finding(s)", kind, len(rep.Findings))
	return rep, nil
}

// RunAll runs the accessibility, performance, SEO, best-practices and
// Next.js audits in order. A failing audit does not stop the others.
func (o *Orchestrator) RunAll(ctx context.Context) Combined {
	var c Combined
	for _, k := range combinedOrder {
		rep, _ := o.Run(ctx, k)
		c.Reports = append(c.Reports, rep)
	}
	return c
}

// Element describes the focused element.
type Element struct {
	TagName     string  `json:"tagName"`
	ID          string  `json:"id"`
	ClassName   string  `json:"className"`
	TextContent string  `json:"textContent"`
	Value       *string `json:"value"`
	Selector    string  `json:"selector"`
}

// SelectedElement returns the element holding focus, or nil when focus is
// on the document body.
func (o *Orchestrator) SelectedElement(ctx context.Context) (*Element, error) {
	raw, err := o.ev.EvaluateValue(ctx, selectedElementScript)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var el Element
	if err := json.Unmarshal(raw, &el); err != nil {
		return nil, fmt.Errorf("decode selected element: %w", err)
	}
	return &el, nil
}
