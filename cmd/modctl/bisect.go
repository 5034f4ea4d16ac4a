package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/QCAY1145/Mashiro-Modmanager/internal/bisect"
)

// bisectCmd runs a whole session in one process; sessions live in memory only
func (c *cli) bisectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bisect",
		Short: "Find a faulty package by disabling half of the enabled set at a time",
		Long: `Bisect snapshots the enabled packages and, round by round, disables half of
the remaining suspects. Test the game after each round and answer whether the
problem persists by choosing which half to disable next. Ending input or
choosing cancel restores the snapshot.`,
		GroupID: "conflicts",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.svc(cmd.Context())
			if err != nil {
				return err
			}
			session, err := s.Isolator.Start(cmd.Context())
			if err != nil {
				return err
			}

			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.ErrOrStderr()
			ask := &promptDecider{in: in, out: out}

			snap := session.Snapshot()
			for !snap.Status.Finished() {
				fmt.Fprintf(out, "%d suspects: %s\n", len(snap.Candidates), strings.Join(snap.Candidates, ", "))
				fmt.Fprintf(out, "  front: %s\n  back:  %s\n", strings.Join(snap.Front, ", "), strings.Join(snap.Back, ", "))

				answer, err := ask.choose("Disable [f]ront, [b]ack, [d]isable all, [c]ancel", map[string]string{
					"f": string(bisect.Front),
					"b": string(bisect.Back),
					"d": "disable",
					"c": "cancel",
				})
				switch {
				case errors.Is(err, io.EOF):
					answer = "cancel"
				case err != nil:
					return err
				}

				switch answer {
				case "cancel":
					snap, err = session.Cancel(cmd.Context())
				case "disable":
					snap, err = session.DisableAll(cmd.Context())
				default:
					snap, err = session.Bisect(cmd.Context(), bisect.Half(answer))
				}
				if err != nil {
					return err
				}
			}

			if snap.Status == bisect.StatusIsolated {
				fmt.Fprintf(out, "Suspect: %s\n", snap.Suspect)
				answer, err := ask.choose("[k]eep the current set, [r]estore the snapshot", map[string]string{"k": "keep", "r": "restore"})
				if errors.Is(err, io.EOF) {
					answer, err = "restore", nil
				}
				if err != nil {
					return err
				}
				if answer == "restore" {
					if snap, err = session.Cancel(cmd.Context()); err != nil {
						return err
					}
				}
			}
			return c.printer(cmd.OutOrStdout()).line(snap, "Bisection %s after %d rounds", snap.Status, snap.Rounds)
		},
	}
}
