package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/domain"
)

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List installed packages",
		GroupID: "packages",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			packages, err := s.Manager.List(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([]table.Row, 0, len(packages))
			for _, p := range packages {
				rows = append(rows, table.Row{p.Name, yesNo(p.State.Enabled), yesNo(p.State.Favorite), yesNo(p.State.Ignored), p.FileCount, yesNo(p.HasManifest)})
			}
			return c.printer(cmd.OutOrStdout()).table(packages,
				table.Row{"Name", "Enabled", "Favorite", "Ignored", "Files", "Manifest"}, rows)
		},
	}
}

func (c *cli) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "info NAME",
		Short:   "Show a package and check it against its manifest",
		GroupID: "packages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			info, err := s.Manager.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			report, err := s.Manager.Integrity(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			p := c.printer(cmd.OutOrStdout())
			value := map[string]any{"package": info, "integrity": report}
			if p.jsonOut {
				return p.json(value)
			}
			fmt.Fprintf(p.out, "%s (%s)\n", info.Name, info.Folder)
			fmt.Fprintf(p.out, "  enabled: %t  favorite: %t  ignored: %t\n", info.State.Enabled, info.State.Favorite, info.State.Ignored)
			fmt.Fprintf(p.out, "  files: %d  manifest: %t  intact: %t\n", info.FileCount, report.HasManifest, report.Complete)
			printPaths(p.out, "missing", report.Missing)
			printPaths(p.out, "extra", report.Extra)
			return nil
		},
	}
}

func (c *cli) manifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "manifest NAME",
		Short:   "Record a package's current files as its manifest",
		GroupID: "packages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			manifest, err := s.Manager.RecordManifest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printer(cmd.OutOrStdout()).line(manifest,
				"Recorded %d entries for %s", len(manifest.Entries), manifest.Package)
		},
	}
}

func (c *cli) flagCmd() *cobra.Command {
	var favorite, ignored bool

	cmd := &cobra.Command{
		Use:     "flag NAME",
		Short:   "Set the favorite or ignored flag of a package",
		Example: "  modctl flag \"HD Textures\" --favorite\n  modctl flag Broken --ignored=true",
		GroupID: "packages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fav, ign *bool
			if cmd.Flags().Changed("favorite") {
				fav = &favorite
			}
			if cmd.Flags().Changed("ignored") {
				ign = &ignored
			}
			if fav == nil && ign == nil {
				return fmt.Errorf("pass --favorite or --ignored")
			}

			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			state, err := s.Manager.SetFlags(cmd.Context(), args[0], fav, ign)
			if err != nil {
				return err
			}
			return c.printer(cmd.OutOrStdout()).line(state,
				"%s: favorite=%t ignored=%t", args[0], state.Favorite, state.Ignored)
		},
	}
	cmd.Flags().BoolVar(&favorite, "favorite", false, "Mark as favorite")
	cmd.Flags().BoolVar(&ignored, "ignored", false, "Skip in enable-all")
	return cmd
}

func (c *cli) uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall NAME",
		Short:   "Disable a package if needed and delete its folder",
		GroupID: "packages",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.Manager.Uninstall(cmd.Context(), args[0]); err != nil {
				return err
			}
			return c.printer(cmd.OutOrStdout()).line(map[string]string{"package": args[0]}, "Uninstalled %s", args[0])
		},
	}
}

// decisionFlags are the preset answers shared by enable and enable-all
type decisionFlags struct {
	onIntegrity string
	onConflict  string
	priority    []string
}

func (f *decisionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.onIntegrity, "on-integrity", "", "Answer to a manifest mismatch: cancel, save-and-enable or uninstall")
	cmd.Flags().StringVar(&f.onConflict, "on-conflict", "", "Answer to a conflict: cancel, override or manual (link mode)")
	cmd.Flags().StringSliceVar(&f.priority, "priority", nil, "Order for manual resolution, most favored first")
}

func (f *decisionFlags) validate() error {
	if f.onIntegrity != "" && !domain.IntegrityDecision(f.onIntegrity).Valid() {
		return fmt.Errorf("unknown --on-integrity %q", f.onIntegrity)
	}
	if f.onConflict != "" && !domain.ConflictDecision(f.onConflict).Valid() {
		return fmt.Errorf("unknown --on-conflict %q", f.onConflict)
	}
	return nil
}

func (c *cli) decider(cmd *cobra.Command, f *decisionFlags) *promptDecider {
	return &promptDecider{
		onIntegrity: f.onIntegrity,
		onConflict:  f.onConflict,
		priority:    f.priority,
		interactive: c.interactive,
		in:          bufio.NewReader(cmd.InOrStdin()),
		out:         cmd.ErrOrStderr(),
	}
}

func (c *cli) enableCmd() *cobra.Command {
	var flags decisionFlags

	cmd := &cobra.Command{
		Use:   "enable NAME...",
		Short: "Check and deploy packages into the target directory",
		Long: `Enable checks each package against its manifest and against the enabled
packages, asks how to resolve what it finds, and deploys the package.
Without a terminal, questions must be answered in advance with flags.`,
		Example: "  modctl enable \"HD Textures\" --on-conflict override",
		GroupID: "deploy",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}

			decider := c.decider(cmd, &flags)
			outcomes := make([]domain.EnableOutcome, 0, len(args))
			for _, name := range args {
				outcome, err := s.Manager.Enable(cmd.Context(), name, decider)
				if err != nil {
					return fmt.Errorf("enable %s: %w", name, err)
				}
				if outcome.Result != nil && outcome.Result.ElevationRequired {
					return fmt.Errorf("enable %s: creating links needs elevated rights", name)
				}
				outcomes = append(outcomes, outcome)
			}
			return c.printer(cmd.OutOrStdout()).outcomes(outcomes)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) disableCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disable NAME...",
		Short:   "Remove packages from the target directory",
		GroupID: "deploy",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			results := make([]domain.ApplyResult, 0, len(args))
			for _, name := range args {
				result, err := s.Manager.Disable(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("disable %s: %w", name, err)
				}
				results = append(results, result)
			}
			return c.printer(cmd.OutOrStdout()).results(results)
		},
	}
}

func (c *cli) enableAllCmd() *cobra.Command {
	var flags decisionFlags

	cmd := &cobra.Command{
		Use:     "enable-all",
		Short:   "Enable every disabled package that is not ignored",
		GroupID: "deploy",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			outcomes, err := s.Manager.EnableAll(cmd.Context(), c.decider(cmd, &flags))
			if err != nil {
				return err
			}
			return c.printer(cmd.OutOrStdout()).outcomes(outcomes)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) disableAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "disable-all",
		Short:   "Disable every enabled package, most recent first",
		GroupID: "deploy",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			results, err := s.Manager.DisableAll(cmd.Context())
			if err != nil {
				return err
			}
			return c.printer(cmd.OutOrStdout()).results(results)
		},
	}
}

func (c *cli) strategyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strategy [copy|link]",
		Short: "Show or change the deployment strategy",
		Long: `The chosen strategy is saved with the package states and used by later runs
instead of the configured default. Switching from link to copy replaces every
deployed link with a copy of its source.`,
		GroupID:   "deploy",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(domain.StrategyCopy), string(domain.StrategyLink)},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			p := c.printer(cmd.OutOrStdout())
			if len(args) == 0 {
				return p.line(map[string]any{"strategy": s.Manager.Strategy()}, "%s", s.Manager.Strategy())
			}

			strategy, err := domain.ParseStrategy(args[0])
			if err != nil {
				return err
			}
			conversion, err := s.Manager.SetStrategy(cmd.Context(), strategy)
			if err != nil {
				return err
			}
			return p.line(map[string]any{"strategy": strategy, "conversion": conversion},
				"Strategy is now %s (%d links converted, %d failed)", strategy, conversion.Converted, conversion.Failed)
		},
	}
}

func (c *cli) ownerCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "owner PATH",
		Short:   "Show which enabled package provides a target path",
		GroupID: "deploy",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			owner, ok, err := s.Manager.Owner(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p := c.printer(cmd.OutOrStdout())
			value := map[string]any{"path": args[0], "owner": owner, "owned": ok}
			if !ok {
				return p.line(value, "%s is not provided by any enabled package", args[0])
			}
			return p.line(value, "%s", owner)
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "check NAME NAME...",
		Short:   "List paths shared between packages of a batch",
		GroupID: "conflicts",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			conflicts, err := s.Manager.ValidateBatch(cmd.Context(), args)
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(conflicts))
			for _, pc := range conflicts {
				rows = append(rows, table.Row{pc.A, pc.B, pc.Path})
			}
			return c.printer(cmd.OutOrStdout()).table(conflicts, table.Row{"Package", "Package", "Path"}, rows)
		},
	}
}

func (c *cli) conflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conflicts NAME",
		Short:   "List enabled packages sharing paths with a package",
		GroupID: "conflicts",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			report, err := s.Manager.Conflicts(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(report.ConflictingPackages))
			for _, name := range report.ConflictingPackages {
				rows = append(rows, table.Row{name, len(report.SharedPaths[name])})
			}
			return c.printer(cmd.OutOrStdout()).table(report, table.Row{"Enabled package", "Shared paths"}, rows)
		},
	}
}

func (c *cli) prioritiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "priorities",
		Short:   "Manage saved priority orders",
		GroupID: "conflicts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			groups := s.Priorities.Groups()
			rows := make([]table.Row, 0, len(groups))
			for _, g := range groups {
				rows = append(rows, table.Row{g.Key, strings.Join(g.Order, " > ")})
			}
			return c.printer(cmd.OutOrStdout()).table(groups, table.Row{"Group", "Order"}, rows)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set NAME NAME...",
		Short: "Save an order, most favored first",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			order := domain.PriorityOrder(args)
			if err := s.Priorities.Save(cmd.Context(), order); err != nil {
				return err
			}
			return c.printer(cmd.OutOrStdout()).line(order, "Saved %s", strings.Join(order, " > "))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete KEY",
		Short: "Delete the order saved for a group (names sorted and joined by commas)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.Priorities.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			return c.printer(cmd.OutOrStdout()).line(map[string]string{"key": args[0]}, "Deleted %s", args[0])
		},
	})
	return cmd
}

func (c *cli) usageCmd() *cobra.Command {
	var pkg string
	var limit int

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show recent enable, disable and uninstall events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			if s.Usage == nil {
				return fmt.Errorf("usage history is not available")
			}
			events, err := s.Usage.Recent(cmd.Context(), pkg, limit)
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(events))
			for _, e := range events {
				rows = append(rows, table.Row{e.CreatedAt.Format("2006-01-02 15:04:05"), e.Package, e.Action, e.Strategy, e.Outcome, e.Written, e.Failed})
			}
			return c.printer(cmd.OutOrStdout()).table(events,
				table.Row{"When", "Package", "Action", "Strategy", "Outcome", "Written", "Failed"}, rows)
		},
	}
	cmd.Flags().StringVar(&pkg, "package", "", "Only events of this package")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum events")
	return cmd
}
