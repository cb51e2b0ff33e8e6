package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/farum-tasks/internal/app/extract"
	"github.com/PabloGalante/farum-tasks/internal/app/risk"
	"github.com/PabloGalante/farum-tasks/internal/domain"
)

func parseCmd() *cobra.Command {
	var parser string
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Extract task candidates from a reply read on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			return printCandidates(cmd.OutOrStdout(), extract.New(parser).Parse(string(b)), time.Now())
		},
	}
	cmd.Flags().StringVar(&parser, "parser", "line", "parser to use (line, regex)")
	return cmd
}

func printCandidates(w io.Writer, candidates []domain.TaskCandidate, now time.Time) error {
	if len(candidates) == 0 {
		_, err := fmt.Fprintln(w, "no tasks found")
		return err
	}
	for i, c := range candidates {
		due := "-"
		if d := domain.FormatDeadline(c.Deadline); d != nil {
			due = *d
		}
		if _, err := fmt.Fprintf(w, "%d. %s\t%s\t%s\n", i+1, c.Title, due, risk.Classify(c.Deadline, now)); err != nil {
			return err
		}
	}
	return nil
}
