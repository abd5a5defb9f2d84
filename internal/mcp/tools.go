package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"cdpbridge/internal/audit"
	"cdpbridge/internal/browser"
	"cdpbridge/internal/ringlog"
)

// Browser is the automation surface the tools drive.
type Browser interface {
	Navigate(ctx context.Context, url string) (string, error)
	Screenshot(ctx context.Context, name string, fullPage bool) (string, error)
	Click(ctx context.Context, selector string) (string, error)
	Hover(ctx context.Context, selector string) (string, error)
	Fill(ctx context.Context, selector, value string) (string, error)
	Select(ctx context.Context, selector, value string) (string, error)
	Evaluate(ctx context.Context, script string) (string, error)
	Content(ctx context.Context, kind browser.ContentKind) (string, error)
	ConsoleLogs() []ringlog.ConsoleEntry
	ConsoleErrors() []ringlog.ConsoleEntry
	NetworkLogs() []ringlog.NetworkEntry
	NetworkErrors() []ringlog.NetworkEntry
	WipeLogs() string
	Close(ctx context.Context) (string, error)
}

// Auditor runs page audits.
type Auditor interface {
	Run(ctx context.Context, kind audit.Kind) (audit.Report, error)
	RunAll(ctx context.Context) audit.Combined
	SelectedElement(ctx context.Context) (*audit.Element, error)
}

type toolArgs struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	FullPage bool   `json:"fullPage"`
	Selector string `json:"selector"`
	Value    string `json:"value"`
	Script   string `json:"script"`
	Type     string `json:"type"`
}

type tool struct {
	name        string
	description string
	schema      string
	required    []string
	run         func(ctx context.Context, s *Server, a toolArgs) *CallToolResult
}

const noArgs = `{"type":"object","properties":{}}`

func reply(text string, err error) *CallToolResult {
	if err != nil {
		return errorResult(err)
	}
	return textResult(text)
}

func jsonReply(v interface{}) *CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return textResult(string(data))
}

func auditTool(name, description string, kind audit.Kind) tool {
	return tool{
		name:        name,
		description: description,
		schema:      noArgs,
		run: func(ctx context.Context, s *Server, _ toolArgs) *CallToolResult {
			rep, _ := s.auditor.Run(ctx, kind)
			res := textResult(rep.String())
			res.IsError = rep.Failed()
			return res
		},
	}
}

func (a toolArgs) get(field string) string {
	switch field {
	case "url":
		return a.URL
	case "selector":
		return a.Selector
	case "script":
		return a.Script
	}
	return ""
}

func (t tool) validate(a toolArgs) error {
	for _, field := range t.required {
		if a.get(field) == "" {
			return fmt.Errorf("missing required argument %q", field)
		}
	}
	return nil
}

var tools = []tool{
	{
		name:        "navigate",
		description: "Navigate to a URL",
		schema:      `{"type":"object","properties":{"url":{"type":"string","description":"URL to navigate to"}},"required":["url"]}`,
		required:    []string{"url"},
		run: func(ctx context.Context, s *Server, a toolArgs) *CallToolResult {
			return reply(s.browser.Navigate(ctx, a.URL))
		},
	},
	{
		name:        "screenshot",
		description: "Take a screenshot of the current page",
		schema: `{"type":"object","properties":{` +
			`"name":{"type":"string","description":"Name for the screenshot file","default":"screenshot.png"},` +
			`"fullPage":{"type":"boolean","description":"Capture full page","default":false}}}`,
		run: func(ctx context.Context, s *Server, a toolArgs) *CallToolResult {
			name := a.Name
			if name == "" {
				name = "screenshot.png"
			}
			return reply(s.browser.Screenshot(ctx, name, a.FullPage))
		},
	},
	{
		name:        "click",
		description: "Click an element on the page",
		schema:      `{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector for the element to click"}},"required":["selector"]}`,
		required:    []string{"selector"},
		run: func(ctx context.Context, s *Server, a toolArgs) *CallToolResult {
			return reply(s.browser.Click(ctx, a.Selector))
		},
	},
	{
		name:        "fill",
		description: "Fill an input field",
		schema: `{"type":"object","properties":{` +
			`"selector":{"type":"string","description":"CSS selector for the input field"},` +
			`"value":{"type":"string","description":"Value to fill"}},"required":["selector","value"]}`,
		required: []string{"selector"},
		run: func(ctx context.Context, s *Server, a toolArgs) *CallToolResult {
			return reply(s.browser.Fill(ctx, a.Selector, a.Value))
		},
	},
	{
		name:        "evaluate",
		description: "Execute JavaScript in the browser",
		schema:      `{"type":"object","properties":{"script":{"type":"string","description":"JavaScript code to execute"}},"required":["script"]}`,
		required:    []string{"script"},
		run: func(ctx context.Context, s *Server, a toolArgs) *CallToolResult {
			return reply(s.browser.Evaluate(ctx, a.Script))
		},
	},
	{
		name:        "get_content",
		description: "Get page content (HTML or text)",
		schema:      `{"type":"object","properties":{"type":{"type":"string","enum":["html","text"],"description":"Type of content to get","default":"text"}}}`,
		run: func(ctx context.Context, s *Server, a toolArgs) *CallToolResult {
			kind := browser.ContentKind(a.Type)
			if kind == "" {
				kind = browser.ContentText
			}
			return reply(s.browser.Content(ctx, kind))
		},
	},
	{
		name:        "hover",
		description: "Hover over an element on the page",
		schema:      `{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector for the element to hover"}},"required":["selector"]}`,
		required:    []string{"selector"},
		run: func(ctx context.Context, s *Server, a toolArgs) *CallToolResult {
			return reply(s.browser.Hover(ctx, a.Selector))
		},
	},
	{
		name:        "select",
		description: "Select an option from a dropdown",
		schema: `{"type":"object","properties":{` +
			`"selector":{"type":"string","description":"CSS selector for the select element"},` +
			`"value":{"type":"string","description":"Value to select"}},"required":["selector","value"]}`,
		required: []string{"selector"},
		run: func(ctx context.Context, s *Server, a toolArgs) *CallToolResult {
			return reply(s.browser.Select(ctx, a.Selector, a.Value))
		},
	},
	{
		name: "get_console_logs", description: "Get browser console logs", schema: noArgs,
		run: func(_ context.Context, s *Server, _ toolArgs) *CallToolResult { return jsonReply(s.browser.ConsoleLogs()) },
	},
	{
		name: "get_console_errors", description: "Get browser console errors", schema: noArgs,
		run: func(_ context.Context, s *Server, _ toolArgs) *CallToolResult { return jsonReply(s.browser.ConsoleErrors()) },
	},
	{
		name: "get_network_logs", description: "Get network activity logs", schema: noArgs,
		run: func(_ context.Context, s *Server, _ toolArgs) *CallToolResult { return jsonReply(s.browser.NetworkLogs()) },
	},
	{
		name: "get_network_errors", description: "Get network error logs", schema: noArgs,
		run: func(_ context.Context, s *Server, _ toolArgs) *CallToolResult { return jsonReply(s.browser.NetworkErrors()) },
	},
	{
		name: "wipe_logs", description: "Clear all stored logs from memory", schema: noArgs,
		run: func(_ context.Context, s *Server, _ toolArgs) *CallToolResult { return textResult(s.browser.WipeLogs()) },
	},
	{
		name: "get_selected_element", description: "Get information about the currently selected element", schema: noArgs,
		run: func(ctx context.Context, s *Server, _ toolArgs) *CallToolResult {
			el, err := s.auditor.SelectedElement(ctx)
			switch {
			case err != nil:
				return errorResult(err)
			case el == nil:
				return textResult("No element currently selected")
			}
			return jsonReply(el)
		},
	},
	auditTool("run_accessibility_audit", "Run an accessibility audit on the current page", audit.Accessibility),
	auditTool("run_performance_audit", "Run a performance audit on the current page", audit.Performance),
	auditTool("run_seo_audit", "Run an SEO audit on the current page", audit.SEO),
	auditTool("run_best_practices_audit", "Run a best practices audit on the current page", audit.BestPractices),
	auditTool("run_nextjs_audit", "Run a Next.js specific audit on the current page", audit.NextJS),
	auditTool("run_debugger_mode", "Run debugger mode to debug issues in the application", audit.Debugger),
	{
		name: "run_audit_mode", description: "Run comprehensive audit mode for optimization", schema: noArgs,
		run: func(ctx context.Context, s *Server, _ toolArgs) *CallToolResult {
			c := s.auditor.RunAll(ctx)
			res := textResult(c.String())
			res.IsError = c.Failed()
			return res
		},
	},
	{
		name: "close_browser", description: "Close the browser instance", schema: noArgs,
		run: func(ctx context.Context, s *Server, _ toolArgs) *CallToolResult {
			return reply(s.browser.Close(ctx))
		},
	},
}
