package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/kgate/internal/audit"
	"github.com/alfredjeanlab/kgate/internal/events"
	"github.com/alfredjeanlab/kgate/internal/model"
	"github.com/alfredjeanlab/kgate/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log [issue-id]",
	Short:   "Show the audit log",
	GroupID: "system",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := logFilter(cmd, args)
		if err != nil {
			return err
		}
		evs, err := kg.audit.Read(cmd.Context(), f)
		if err != nil {
			return err
		}
		if jsonOutput {
			if evs == nil {
				evs = []*model.Event{}
			}
			return printJSON(evs)
		}
		for _, e := range evs {
			printEvent(e)
		}
		return nil
	},
}

func logFilter(cmd *cobra.Command, args []string) (audit.Filter, error) {
	var f audit.Filter
	if len(args) == 1 {
		f.IssueID = args[0]
	}
	f.TypePrefix, _ = cmd.Flags().GetString("type")
	if f.TypePrefix != "" && !strings.HasPrefix(f.TypePrefix, "kgate.") {
		f.TypePrefix = "kgate." + f.TypePrefix
	}
	f.Limit, _ = cmd.Flags().GetInt("limit")
	since, _ := cmd.Flags().GetDuration("since")
	if since < 0 {
		return f, fmt.Errorf("--since must be positive, got %s", since)
	}
	if since > 0 {
		f.Since = time.Now().Add(-since)
	}
	return f, nil
}

func printEvent(e *model.Event) {
	if jsonOutput {
		data, _ := json.Marshal(e)
		fmt.Println(string(data))
		return
	}
	var payload bytes.Buffer
	if err := json.Compact(&payload, e.Payload); err != nil {
		payload.Write(e.Payload)
	}
	fmt.Printf("%s  %-28s %-12s %-16s %s\n",
		ui.RenderMuted(e.Timestamp.Local().Format(timeLayout)),
		ui.RenderAccent(strings.TrimPrefix(e.Type, "kgate.")),
		dash(e.IssueID), dash(e.Actor), ui.RenderMuted(payload.String()))
}

var watchCmd = &cobra.Command{
	Use:   "watch [issue-id]",
	Short: "Stream events as they happen",
	Long: `Stream events as they happen.

With nats_url configured, events arrive over NATS and the audit log is
re-read after a reconnect to fill any gap. Otherwise the log is polled.`,
	GroupID: "system",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := logFilter(cmd, args)
		if err != nil {
			return err
		}
		f.Limit = 0
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		w := &watcher{filter: f, seen: map[string]bool{}}
		if f.Since.IsZero() {
			f.Since = time.Now()
			w.filter = f
		}
		if err := w.catchUp(ctx); err != nil {
			return err
		}
		if kg.cfg.NATSURL != "" {
			return w.watchNATS(ctx, kg.cfg.NATSURL)
		}
		return w.watchPoll(ctx, interval)
	},
}

// watcher prints each matching event once, whichever path delivered it.
type watcher struct {
	filter audit.Filter
	seen   map[string]bool
}

func (w *watcher) emit(e *model.Event) {
	if w.seen[e.ID] {
		return
	}
	w.seen[e.ID] = true
	if w.filter.IssueID != "" && e.IssueID != w.filter.IssueID {
		return
	}
	if w.filter.TypePrefix != "" && !strings.HasPrefix(e.Type, w.filter.TypePrefix) {
		return
	}
	printEvent(e)
}

// catchUp prints logged events not yet seen.
func (w *watcher) catchUp(ctx context.Context) error {
	evs, err := kg.audit.Read(ctx, w.filter)
	if err != nil {
		return err
	}
	for _, e := range evs {
		w.emit(e)
	}
	return nil
}

func (w *watcher) watchNATS(ctx context.Context, url string) error {
	reconnectCh := make(chan struct{}, 1)

	sub, err := events.NewNATSSubscriber(url,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			kg.logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			kg.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			select {
			case reconnectCh <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	subject := events.SubjectAll
	if w.filter.IssueID != "" {
		subject = events.IssueSubject(w.filter.IssueID)
	}
	ch, cancel, err := sub.Subscribe(subject)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	var dropped int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			w.emit(e)
			if n := sub.Dropped(); n > dropped {
				// Dropped messages are still in the log.
				dropped = n
				if err := w.catchUp(ctx); err != nil {
					return err
				}
			}
		case <-reconnectCh:
			if err := w.catchUp(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *watcher) watchPoll(ctx context.Context, interval time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
		if err := w.catchUp(ctx); err != nil {
			return err
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{logCmd, watchCmd} {
		c.Flags().String("type", "", "event type prefix, e.g. gate. or issue.state_changed")
		c.Flags().Duration("since", 0, "only events newer than this")
	}
	logCmd.Flags().IntP("limit", "n", 0, "show only the most recent N events")
	watchCmd.Flags().Duration("interval", 2*time.Second, "poll interval without NATS")
}
