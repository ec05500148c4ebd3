package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/state"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var allKinds = []domain.Kind{domain.KindCart, domain.KindSaved}

func newSyncCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes and reload both collections from the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views := make([]state.View, 0, len(allKinds))
			var firstErr error
			for _, kind := range allKinds {
				p := sess.app.Open(cmd.Context(), kind)
				view, err := p.Sync(cmd.Context())
				if err != nil && firstErr == nil {
					firstErr = fmt.Errorf("%s: %w", kind, err)
				}
				views = append(views, view)
			}
			if err := renderSummary(sess.out, sess.format, views); err != nil {
				return err
			}
			return firstErr
		},
	}
}

func newStatusCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show mode, sync state and pending changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views := make([]state.View, 0, len(allKinds))
			for _, kind := range allKinds {
				views = append(views, sess.app.Open(cmd.Context(), kind).View())
			}
			return renderSummary(sess.out, sess.format, views)
		},
	}
}

func newWatchCmd(sess *session) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print every change until interrupted",
		Long: `watch keeps both collections open, probes the API for connectivity and
follows writes made by other storefront processes sharing the data
directory. Queued changes are replayed as soon as the API is reachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, sess)
		},
	}
}

func runWatch(ctx context.Context, sess *session) error {
	app := sess.app

	monitor := app.Monitor()
	go monitor.Run(ctx)
	online := fanOut(ctx, monitor.Changes(), len(allKinds))

	storage := make([]<-chan struct{}, len(allKinds))
	if app.cfg.WatchStorage {
		watcher, err := app.Watcher()
		if err != nil {
			app.log.WithError(err).Warn("storage watcher unavailable")
		} else {
			defer watcher.Close()
			go watcher.Run(ctx)
			storage = fanOut(ctx, watcher.Events(), len(allKinds))
		}
	}

	views := make(chan state.View)
	for i, kind := range allKinds {
		p := state.NewProvider(app.Service(kind),
			state.WithConnectivity(online[i]),
			state.WithStorageEvents(storage[i]),
			state.WithLogger(app.log),
		)
		if err := p.Start(ctx, app.Owner()); err != nil {
			app.log.WithError(err).WithField("kind", kind).Warn("initial sync failed")
		}
		defer p.Stop()

		sub, cancel := p.Subscribe()
		defer cancel()
		go func() {
			for v := range sub {
				select {
				case views <- v:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-views:
			if err := renderLine(sess.out, sess.format, v); err != nil {
				return err
			}
		}
	}
}

// fanOut copies every value of in to n channels. Each output keeps only the
// newest unread value.
func fanOut[T any](ctx context.Context, in <-chan T, n int) []<-chan T {
	outs := make([]chan T, n)
	ro := make([]<-chan T, n)
	for i := range outs {
		outs[i] = make(chan T, 1)
		ro[i] = outs[i]
	}

	go func() {
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				for _, out := range outs {
					select {
					case <-out:
					default:
					}
					out <- v
				}
			}
		}
	}()
	return ro
}

func renderSummary(w io.Writer, f Format, views []state.View) error {
	out := make([]viewOutput, 0, len(views))
	for _, v := range views {
		vo := toViewOutput(v)
		vo.Items = nil
		out = append(out, vo)
	}

	switch f {
	case FormatJSON:
		return writeJSON(w, out)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(out)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tMODE\tOWNER\tSYNC\tONLINE\tPENDING\tITEMS\tTOTAL\tERROR")
	for _, v := range out {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%d\t%s\t%s\n",
			v.Kind, v.Mode, v.Owner, v.SyncStatus, v.Online, v.Pending, v.ItemCount, v.Total, v.Error)
	}
	return tw.Flush()
}

func renderLine(w io.Writer, f Format, v state.View) error {
	vo := toViewOutput(v)
	switch f {
	case FormatJSON:
		data, err := json.Marshal(vo)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		fmt.Fprintln(w, "---")
		return yaml.NewEncoder(w).Encode(vo)
	}

	line := fmt.Sprintf("%s: %d item(s), total %s, sync %s, online %t, pending %d",
		vo.Kind, vo.ItemCount, vo.Total, vo.SyncStatus, vo.Online, vo.Pending)
	if vo.Error != "" {
		line += ", error: " + vo.Error
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
