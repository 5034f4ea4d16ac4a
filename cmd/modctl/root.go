package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/app"
	"github.com/QCAY1145/Mashiro-Modmanager/internal/config"
)

// opener builds the service a command runs against
type opener func(ctx context.Context) (*app.Service, error)

// openFromEnv loads the configuration from the environment and opens the library on disk
func openFromEnv(ctx context.Context) (*app.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return app.Open(ctx, cfg, afero.NewOsFs())
}

// cli carries the flags and the opened service shared by every command
type cli struct {
	open      opener
	service   *app.Service
	verbosity int
	jsonOut   bool
	// interactive is true when stdin is a terminal; prompts are skipped otherwise
	interactive bool
}

// newRootCmd builds the command tree; the returned func closes whatever the commands opened
func newRootCmd(open opener) (*cobra.Command, func() error) {
	c := &cli{open: open}

	root := &cobra.Command{
		Use:   "modctl",
		Short: "Deploy and manage game mod packages",
		Long: `modctl overlays installed mod packages onto the game directory, either by
copying files or by linking them back into the packages directory. It checks
packages against their manifests, detects packages that write the same
paths, and can bisect the enabled set to find a faulty package.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(c.verbosity)
			if f, ok := cmd.InOrStdin().(*os.File); ok {
				c.interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
			}
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().CountVarP(&c.verbosity, "verbose", "v", "Increase verbosity (-v INFO, -vv DEBUG)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "Print results as JSON")

	root.AddGroup(
		&cobra.Group{ID: "packages", Title: "Packages:"},
		&cobra.Group{ID: "deploy", Title: "Deployment:"},
		&cobra.Group{ID: "conflicts", Title: "Conflicts:"},
	)

	root.AddCommand(
		c.listCmd(),
		c.infoCmd(),
		c.manifestCmd(),
		c.flagCmd(),
		c.uninstallCmd(),
		c.enableCmd(),
		c.disableCmd(),
		c.enableAllCmd(),
		c.disableAllCmd(),
		c.strategyCmd(),
		c.ownerCmd(),
		c.checkCmd(),
		c.conflictsCmd(),
		c.prioritiesCmd(),
		c.bisectCmd(),
		c.usageCmd(),
	)
	return root, c.close
}

// svc opens the service on first use
func (c *cli) svc(ctx context.Context) (*app.Service, error) {
	if c.service != nil {
		return c.service, nil
	}
	s, err := c.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open mod library: %w", err)
	}
	c.service = s
	return s, nil
}

func (c *cli) close() error {
	if c.service == nil {
		return nil
	}
	err := c.service.Close()
	c.service = nil
	return err
}

// setupLogging sends zerolog output to stderr; stdout is for results
func setupLogging(verbosity int) {
	switch {
	case verbosity >= 2:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case verbosity == 1:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
