package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cdpbridge/internal/audit"
	"cdpbridge/internal/browser"
	"cdpbridge/internal/logging"
)

var (
	contentHTML    bool
	screenFullPage bool
)

var evalCmd = &cobra.Command{
	Use:   "eval [url] [script]",
	Short: "Navigate to a URL and print the result of a script",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPage(cmd, args[0], func(ctx context.Context, b *browser.Bridge) (string, error) {
			return b.Evaluate(ctx, args[1])
		})
	},
}

var contentCmd = &cobra.Command{
	Use:   "content [url]",
	Short: "Navigate to a URL and print its text (or HTML with --html)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := browser.ContentText
		if contentHTML {
			kind = browser.ContentHTML
		}
		return withPage(cmd, args[0], func(ctx context.Context, b *browser.Bridge) (string, error) {
			return b.Content(ctx, kind)
		})
	},
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot [url] [name]",
	Short: "Navigate to a URL and save a PNG screenshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPage(cmd, args[0], func(ctx context.Context, b *browser.Bridge) (string, error) {
			return b.Screenshot(ctx, args[1], screenFullPage)
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit [url] [kind]",
	Short: "Navigate to a URL and run one audit, or all of them",
	Long: `Runs a page audit after navigating. Kinds: accessibility, performance, seo,
best_practices, nextjs, debugger. Without a kind the combined audit runs.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind audit.Kind
		if len(args) == 2 {
			k, err := audit.ParseKind(args[1])
			if err != nil {
				return err
			}
			kind = k
		}
		return withPage(cmd, args[0], func(ctx context.Context, b *browser.Bridge) (string, error) {
			orch := audit.New(b)
			if kind == "" {
				c := orch.RunAll(ctx)
				if c.Failed() {
					return "", fmt.Errorf("all audits failed:\n%s", c)
				}
				return c.String(), nil
			}
			rep, err := orch.Run(ctx, kind)
			if err != nil {
				return "", err
			}
			return rep.String(), nil
		})
	},
}

func init() {
	contentCmd.Flags().BoolVar(&contentHTML, "html", false, "Print the serialized document instead of its text")
	screenshotCmd.Flags().BoolVar(&screenFullPage, "full-page", false, "Capture the whole scrollable page")
}

// withPage launches a browser, navigates to url, runs fn and always closes
// the browser afterwards.
func withPage(cmd *cobra.Command, url string, fn func(context.Context, *browser.Bridge) (string, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := newBridge(nil)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.GetTerminateGrace()+5*time.Second)
		defer cancel()
		if _, err := b.Close(closeCtx); err != nil {
			logging.Get(logging.CategoryBoot).Warn("close browser: %v", err)
		}
	}()

	msg, err := b.Navigate(ctx, url)
	if err != nil {
		return err
	}
	logging.BootDebug("%s", msg)

	out, err := fn(ctx, b)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
