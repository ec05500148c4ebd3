// Package cli implements the storefront command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logging"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	Output  string
	Token   string
	DataDir string
	APIURL  string
	Guest   bool
	Verbose bool
}

// session is what every command gets after PersistentPreRunE.
type session struct {
	app    *App
	format Format
	out    io.Writer
}

// NewRootCmd builds the storefront command tree.
func NewRootCmd() *cobra.Command {
	var (
		flags globalFlags
		sess  session
	)

	root := &cobra.Command{
		Use:   "storefront",
		Short: "Cart and saved-for-later items that keep working offline",
		Long: `storefront manages a shopping cart and a saved-for-later list.

Guests keep everything on this device. With a token the collections are
synced with the API; changes made while offline are queued and replayed
once the API is reachable again.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}

			format, err := ParseFormat(flags.Output)
			if err != nil {
				return err
			}

			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			applyFlags(cfg, flags)

			logCfg := logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}
			if flags.Verbose {
				logCfg.Level = "debug"
			}
			log := logging.New(logCfg)

			app, err := NewApp(cmd.Context(), cfg, log, flags.Guest)
			if err != nil {
				return err
			}
			sess.app = app
			sess.format = format
			sess.out = cmd.OutOrStdout()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if sess.app != nil {
				sess.app.Close(context.Background())
			}
		},
	}

	root.PersistentFlags().StringVarP(&flags.Output, "output", "o", "table", "output format: table, json, yaml")
	root.PersistentFlags().StringVar(&flags.Token, "token", "", "bearer token (overrides STOREFRONT_TOKEN)")
	root.PersistentFlags().StringVar(&flags.DataDir, "data-dir", "", "local data directory (overrides STOREFRONT_DATA_DIR)")
	root.PersistentFlags().StringVar(&flags.APIURL, "api-url", "", "API base URL (overrides STOREFRONT_API_URL)")
	root.PersistentFlags().BoolVar(&flags.Guest, "guest", false, "ignore the token and use the guest collections")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newCollectionCmd(&sess, domain.KindCart))
	root.AddCommand(newCollectionCmd(&sess, domain.KindSaved))
	root.AddCommand(newSyncCmd(&sess))
	root.AddCommand(newStatusCmd(&sess))
	root.AddCommand(newWatchCmd(&sess))

	return root
}

func applyFlags(cfg *config.Client, flags globalFlags) {
	if flags.Token != "" {
		cfg.Token = flags.Token
	}
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}
	if flags.APIURL != "" {
		if cfg.CatalogURL == cfg.APIURL {
			cfg.CatalogURL = flags.APIURL
		}
		cfg.APIURL = flags.APIURL
	}
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
