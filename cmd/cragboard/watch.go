package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/syncclient"
)

type watchOptions struct {
	server    string
	box       int
	heartbeat time.Duration
	logLevel  string
}

// NewWatchCommand follows one box from a terminal
func NewWatchCommand() *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a box live from the terminal",
		Long: `Connect to a running server as a read-only display and print the box
state every time it changes. The connection is retried with backoff and the
state is resynchronized after every reconnect.`,
		Example: `  cragboard watch --box 0
  cragboard watch --server http://10.0.0.5:8081 --box 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8081", "server base URL")
	cmd.Flags().IntVar(&opts.box, "box", 0, "box id to follow")
	cmd.Flags().DurationVar(&opts.heartbeat, "heartbeat", 30*time.Second, "server heartbeat interval")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	return cmd
}

// boxSocketURL turns http://host:port into ws://host:port/ws/<box>
func boxSocketURL(server string, box int) (string, error) {
	if box < 0 {
		return "", fmt.Errorf("box id must not be negative")
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: scheme must be http or https", server)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: missing host", server)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/" + strconv.Itoa(box)
	return u.String(), nil
}

func runWatch(cmd *cobra.Command, opts *watchOptions) error {
	wsURL, err := boxSocketURL(opts.server, opts.box)
	if err != nil {
		return err
	}

	log := logger.NewWithOptions(logger.Options{
		Level:  logger.ParseLevel(opts.logLevel),
		Output: cmd.ErrOrStderr(),
	})

	out := cmd.OutOrStdout()
	var client *syncclient.Client
	client = syncclient.New(syncclient.Config{
		URL:       wsURL,
		BoxID:     opts.box,
		Heartbeat: opts.heartbeat,
	}, log, syncclient.OnEvent(func(ev models.Event) {
		if ev.Type == models.EventTimerSync {
			return
		}
		printView(out, string(ev.Type), client.Projection())
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(out, "Following box %d at %s\n", opts.box, wsURL)
	if err := client.Run(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// printView writes a one-line summary of the box after an event
func printView(w io.Writer, cause string, p *syncclient.Projection) {
	v := p.View()
	if !v.Initiated {
		fmt.Fprintf(w, "[%s] %s: waiting for route\n", cause, v.Category)
		return
	}

	timer := string(v.TimerState)
	if v.TimerState == models.TimerRunning {
		timer = fmt.Sprintf("%s %.0fs", timer, p.Remaining())
	}
	status := ""
	if v.Finalized {
		status = " FINAL"
	}
	fmt.Fprintf(w, "[%s] %s route %d/%d%s | climbing: %s (%g/%d) | next: %s | timer: %s\n",
		cause, v.Category, v.RouteIndex, v.RoutesCount, status,
		orDash(v.CurrentClimber), v.HoldCount, v.HoldsCount, orDash(v.Preparing), timer)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
