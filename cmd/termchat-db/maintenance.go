package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aeolun/termchat/pkg/events"
	"github.com/aeolun/termchat/pkg/snapshot"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the store schema up to date and report its size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			version, err := s.db.SchemaVersion()
			if err != nil {
				return err
			}
			counts, err := s.db.Counts(cmd.Context())
			if err != nil {
				return err
			}

			if s.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":           s.db.Path(),
					"schema_version": version,
					"counts":         counts,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("store:"), s.db.Path())
			fmt.Fprintf(out, "%s v%d\n", headerStyle.Render("schema:"), version)
			fmt.Fprintf(out, "%s %d channels, %d messages, %d names\n",
				headerStyle.Render("rows:"), counts.Channels, counts.Messages, counts.Names)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the whole store to a JSON snapshot (- for stdout)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			var w io.Writer = cmd.OutOrStdout()
			if args[0] != "-" {
				f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
				if err != nil {
					return fmt.Errorf("failed to create snapshot: %w", err)
				}
				defer f.Close()
				w = f
			}

			snap, err := snapshot.Export(cmd.Context(), s.db, w)
			if err != nil {
				return err
			}
			if args[0] != "-" {
				fmt.Fprintln(cmd.ErrOrStderr(), infoStyle.Render(fmt.Sprintf(
					"Exported %d channels, %d messages, %d names", len(snap.Channels), len(snap.Messages), len(snap.Names))))
			}
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Merge a JSON snapshot into the store (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeInput, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeInput()

			snap, err := snapshot.Load(r)
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			stats, err := snapshot.Import(cmd.Context(), snap, s.store)
			if err != nil {
				return err
			}
			if s.jsonMode {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintln(cmd.OutOrStdout(), infoStyle.Render(fmt.Sprintf(
				"Imported %d channels, %d messages, %d names", stats.Channels, stats.Messages, stats.Names)))
			return nil
		},
	}
}

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Apply a newline-delimited stream of inbound events (- for stdin)",
		Long: `Apply inbound events in order. Each line is an envelope:

  {"type": "channel|message|reaction|receipt", "event": {...}}

Edits are messages with an "edit" key; reactions without "emoji" remove the
reactor's reaction.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, closeInput, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeInput()

			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			ingestor := events.NewIngestor(s.store, s.log)
			applied, err := ingestor.ApplyStream(cmd.Context(), r)
			if err != nil {
				return fmt.Errorf("applied %d events before failing: %w", applied, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), infoStyle.Render(fmt.Sprintf("Applied %d events", applied)))
			return nil
		},
	}
}

func openInput(cmd *cobra.Command, name string) (io.Reader, func(), error) {
	if name == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, func() { f.Close() }, nil
}
