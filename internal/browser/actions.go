package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"cdpbridge/internal/bridgeerr"
	"cdpbridge/internal/cdp"
	"cdpbridge/internal/logging"
	"cdpbridge/internal/ringlog"
)

var loadEventFired = (&proto.PageLoadEventFired{}).ProtoEvent()

// ContentKind selects what Content returns.
type ContentKind string

const (
	ContentHTML ContentKind = "html"
	ContentText ContentKind = "text"
)

const textScript = `document.body ? document.body.innerText : ""`

// Navigate loads url and waits for the load event. A load event that never
// arrives is logged, since the navigation itself was committed.
func (b *Bridge) Navigate(ctx context.Context, url string) (string, error) {
	c, err := b.ensure(ctx)
	if err != nil {
		return "", bridgeerr.WithOp("navigate", err)
	}
	loaded, cancel := c.WaitFor(loadEventFired)
	defer cancel()

	var res proto.PageNavigateResult
	if err := c.Call(ctx, proto.PageNavigate{URL: url}, &res); err != nil {
		return "", bridgeerr.WithOp("navigate", err)
	}
	if res.ErrorText != "" {
		return "", bridgeerr.WithOp("navigate", bridgeerr.Protocol("Page.navigate", res.ErrorText))
	}

	timeout := b.cfg.GetNavigationTimeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-loaded:
	case <-timer.C:
		logging.Get(logging.CategoryBrowser).Warn("navigate %s: no load event within %s", url, timeout)
	case <-ctx.Done():
		return "", bridgeerr.WithOp("navigate", bridgeerr.Wrapf(bridgeerr.KindConnection, ctx.Err(), "waiting for load of %s", url))
	}
	return "Successfully navigated to " + url, nil
}

// locate resolves selector to the center of its content box.
func (b *Bridge) locate(ctx context.Context, c *cdp.Client, op, selector string) (float64, float64, error) {
	var doc proto.DOMGetDocumentResult
	if err := c.Call(ctx, proto.DOMGetDocument{}, &doc); err != nil {
		return 0, 0, err
	}
	if doc.Root == nil {
		return 0, 0, bridgeerr.Protocol("DOM.getDocument", "no document root")
	}
	var found proto.DOMQuerySelectorResult
	if err := c.Call(ctx, proto.DOMQuerySelector{NodeID: doc.Root.NodeID, Selector: selector}, &found); err != nil {
		return 0, 0, err
	}
	if found.NodeID == 0 {
		return 0, 0, bridgeerr.ElementNotFound(op, selector)
	}
	var box proto.DOMGetBoxModelResult
	if err := c.Call(ctx, proto.DOMGetBoxModel{NodeID: found.NodeID}, &box); err != nil {
		return 0, 0, err
	}
	if box.Model == nil || len(box.Model.Content) < 8 {
		return 0, 0, bridgeerr.Protocol("DOM.getBoxModel", "empty content quad")
	}
	q := box.Model.Content
	return (q[0] + q[2] + q[4] + q[6]) / 4, (q[1] + q[3] + q[5] + q[7]) / 4, nil
}

func (b *Bridge) mouse(ctx context.Context, c *cdp.Client, typ proto.InputDispatchMouseEventType, x, y float64) error {
	ev := proto.InputDispatchMouseEvent{Type: typ, X: x, Y: y}
	if typ != proto.InputDispatchMouseEventTypeMouseMoved {
		ev.Button = proto.InputMouseButtonLeft
		ev.ClickCount = 1
	}
	return c.Call(ctx, ev, nil)
}

func (b *Bridge) click(ctx context.Context, op, selector string) error {
	c, err := b.ensure(ctx)
	if err != nil {
		return err
	}
	x, y, err := b.locate(ctx, c, op, selector)
	if err != nil {
		return err
	}
	if err := b.mouse(ctx, c, proto.InputDispatchMouseEventTypeMousePressed, x, y); err != nil {
		return err
	}
	return b.mouse(ctx, c, proto.InputDispatchMouseEventTypeMouseReleased, x, y)
}

// Click presses and releases the left button at the element's center.
func (b *Bridge) Click(ctx context.Context, selector string) (string, error) {
	if err := b.click(ctx, "click", selector); err != nil {
		return "", bridgeerr.WithOp("click", err)
	}
	return "Clicked element: " + selector, nil
}

// Hover moves the pointer to the element's center.
func (b *Bridge) Hover(ctx context.Context, selector string) (string, error) {
	c, err := b.ensure(ctx)
	if err != nil {
		return "", bridgeerr.WithOp("hover", err)
	}
	x, y, err := b.locate(ctx, c, "hover", selector)
	if err == nil {
		err = b.mouse(ctx, c, proto.InputDispatchMouseEventTypeMouseMoved, x, y)
	}
	if err != nil {
		return "", bridgeerr.WithOp("hover", err)
	}
	return "Hovered over element: " + selector, nil
}

// Fill focuses the element by clicking it and types value into it.
func (b *Bridge) Fill(ctx context.Context, selector, value string) (string, error) {
	if err := b.click(ctx, "fill", selector); err != nil {
		return "", bridgeerr.WithOp("fill", err)
	}
	c, err := b.ensure(ctx)
	if err == nil {
		err = c.Call(ctx, proto.InputInsertText{Text: value}, nil)
	}
	if err != nil {
		return "", bridgeerr.WithOp("fill", err)
	}
	return fmt.Sprintf("Filled %s with: %s", selector, value), nil
}

func selectScript(selector, value string) string {
	sel, _ := json.Marshal(selector)
	val, _ := json.Marshal(value)
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.value = %s;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return true;
})()`, sel, val)
}

// Select sets the value of a <select> (or any form control) and fires its
// input and change events.
func (b *Bridge) Select(ctx context.Context, selector, value string) (string, error) {
	obj, err := b.evaluate(ctx, selectScript(selector, value))
	if err != nil {
		return "", bridgeerr.WithOp("select", err)
	}
	if obj.Value.Nil() || !obj.Value.Bool() {
		return "", bridgeerr.ElementNotFound("select", selector)
	}
	return fmt.Sprintf("Selected '%s' in %s", value, selector), nil
}

func (b *Bridge) evaluate(ctx context.Context, script string) (*proto.RuntimeRemoteObject, error) {
	c, err := b.ensure(ctx)
	if err != nil {
		return nil, err
	}
	var res proto.RuntimeEvaluateResult
	err = c.Call(ctx, proto.RuntimeEvaluate{Expression: script, ReturnByValue: true, AwaitPromise: true}, &res)
	if err != nil {
		return nil, err
	}
	if d := res.ExceptionDetails; d != nil {
		msg := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			msg = d.Exception.Description
		}
		return nil, bridgeerr.Protocol("Runtime.evaluate", msg)
	}
	if res.Result == nil {
		return &proto.RuntimeRemoteObject{Type: proto.RuntimeRemoteObjectTypeUndefined}, nil
	}
	return res.Result, nil
}

// Evaluate runs script in the page and returns its value serialized as
// JSON. undefined and values JSON cannot carry (NaN, Infinity, -0) are
// returned by name.
func (b *Bridge) Evaluate(ctx context.Context, script string) (string, error) {
	obj, err := b.evaluate(ctx, script)
	if err != nil {
		return "", bridgeerr.WithOp("evaluate", err)
	}
	switch {
	case obj.UnserializableValue != "":
		return string(obj.UnserializableValue), nil
	case obj.Type == proto.RuntimeRemoteObjectTypeUndefined:
		return "undefined", nil
	}
	raw, err := obj.Value.MarshalJSON()
	if err != nil {
		return "", bridgeerr.WithOp("evaluate", fmt.Errorf("encode result: %w", err))
	}
	return string(raw), nil
}

// EvaluateValue runs script and returns the raw JSON value; undefined
// becomes null.
func (b *Bridge) EvaluateValue(ctx context.Context, script string) (json.RawMessage, error) {
	obj, err := b.evaluate(ctx, script)
	if err != nil {
		return nil, bridgeerr.WithOp("evaluate", err)
	}
	if obj.Type == proto.RuntimeRemoteObjectTypeUndefined {
		return json.RawMessage("null"), nil
	}
	raw, err := obj.Value.MarshalJSON()
	if err != nil {
		return nil, bridgeerr.WithOp("evaluate", fmt.Errorf("encode result: %w", err))
	}
	return raw, nil
}

// AddInitScript registers source to run in every new document before its
// own scripts.
func (b *Bridge) AddInitScript(ctx context.Context, source string) error {
	c, err := b.ensure(ctx)
	if err == nil {
		err = c.Call(ctx, proto.PageAddScriptToEvaluateOnNewDocument{Source: source}, nil)
	}
	return bridgeerr.WithOp("addInitScript", err)
}

// Content returns the page's serialized HTML or its visible text.
func (b *Bridge) Content(ctx context.Context, kind ContentKind) (string, error) {
	switch kind {
	case ContentHTML:
		c, err := b.ensure(ctx)
		if err != nil {
			return "", bridgeerr.WithOp("getContent", err)
		}
		var doc proto.DOMGetDocumentResult
		if err := c.Call(ctx, proto.DOMGetDocument{}, &doc); err != nil {
			return "", bridgeerr.WithOp("getContent", err)
		}
		if doc.Root == nil {
			return "", bridgeerr.WithOp("getContent", bridgeerr.Protocol("DOM.getDocument", "no document root"))
		}
		var res proto.DOMGetOuterHTMLResult
		if err := c.Call(ctx, proto.DOMGetOuterHTML{NodeID: doc.Root.NodeID}, &res); err != nil {
			return "", bridgeerr.WithOp("getContent", err)
		}
		return res.OuterHTML, nil
	case ContentText:
		obj, err := b.evaluate(ctx, textScript)
		if err != nil {
			return "", bridgeerr.WithOp("getContent", err)
		}
		if obj.Value.Nil() {
			return "", nil
		}
		return obj.Value.Str(), nil
	default:
		return "", fmt.Errorf("getContent: unsupported content type %q (want html or text)", kind)
	}
}

// Capture returns a PNG of the viewport, or of the whole document when
// fullPage is set.
func (b *Bridge) Capture(ctx context.Context, fullPage bool) ([]byte, error) {
	c, err := b.ensure(ctx)
	if err != nil {
		return nil, bridgeerr.WithOp("screenshot", err)
	}
	req := proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if fullPage {
		var metrics proto.PageGetLayoutMetricsResult
		if err := c.Call(ctx, proto.PageGetLayoutMetrics{}, &metrics); err != nil {
			return nil, bridgeerr.WithOp("screenshot", err)
		}
		size := metrics.CSSContentSize
		if size == nil {
			size = metrics.ContentSize
		}
		if size != nil {
			req.Clip = &proto.PageViewport{Width: size.Width, Height: size.Height, Scale: 1}
			req.CaptureBeyondViewport = true
		}
	}
	var res proto.PageCaptureScreenshotResult
	if err := c.Call(ctx, req, &res); err != nil {
		return nil, bridgeerr.WithOp("screenshot", err)
	}
	return res.Data, nil
}

// Screenshot captures the page and stores it under name.
func (b *Bridge) Screenshot(ctx context.Context, name string, fullPage bool) (string, error) {
	data, err := b.Capture(ctx, fullPage)
	if err != nil {
		return "", err
	}
	path, err := b.store.Save(name, data)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	return "Screenshot saved to " + path, nil
}

// ConsoleLogs returns the captured console messages, oldest first.
func (b *Bridge) ConsoleLogs() []ringlog.ConsoleEntry { return b.logs.Console() }

// ConsoleErrors returns console errors and warnings.
func (b *Bridge) ConsoleErrors() []ringlog.ConsoleEntry { return b.logs.ConsoleErrors() }

// NetworkLogs returns the captured responses.
func (b *Bridge) NetworkLogs() []ringlog.NetworkEntry { return b.logs.Network() }

// NetworkErrors returns responses with status 400 or above.
func (b *Bridge) NetworkErrors() []ringlog.NetworkEntry { return b.logs.NetworkErrors() }

// WipeLogs empties every log buffer.
func (b *Bridge) WipeLogs() string {
	b.logs.Clear()
	return "All logs cleared from memory"
}
