package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newNamesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "names",
		Short: "List the cached display names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			entries, err := s.store.ListNames(cmd.Context())
			if err != nil {
				return err
			}
			if s.jsonMode {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %s\n", dimStyle.Render(e.ID.String()), e.Name)
			}
			return nil
		},
	}
}

func newMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Show or update the store metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			ctx := cmd.Context()
			meta, err := s.store.GetMetadata(ctx)
			if err != nil {
				return err
			}

			changed := false
			if touch, _ := cmd.Flags().GetBool("touch-contacts-sync"); touch {
				now := time.Now()
				meta.ContactsSyncRequestAt = &now
				changed = true
			}
			if val, _ := cmd.Flags().GetString("fully-migrated"); val != "" {
				migrated, err := strconv.ParseBool(val)
				if err != nil {
					return fmt.Errorf("invalid --fully-migrated value %q", val)
				}
				meta.FullyMigrated = &migrated
				changed = true
			}
			if changed {
				if err := s.store.SetMetadata(ctx, meta); err != nil {
					return err
				}
				if meta, err = s.store.GetMetadata(ctx); err != nil {
					return err
				}
			}

			if s.jsonMode {
				return writeJSON(cmd.OutOrStdout(), meta)
			}

			out := cmd.OutOrStdout()
			syncAt := "never"
			if meta.ContactsSyncRequestAt != nil {
				syncAt = meta.ContactsSyncRequestAt.Local().Format(time.RFC3339)
			}
			migrated := "unknown"
			if meta.FullyMigrated != nil {
				migrated = strconv.FormatBool(*meta.FullyMigrated)
			}
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("contacts sync requested:"), syncAt)
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("fully migrated:         "), migrated)
			return nil
		},
	}

	cmd.Flags().Bool("touch-contacts-sync", false, "record a contacts sync request now")
	cmd.Flags().String("fully-migrated", "", "set the fully-migrated flag (true/false)")
	return cmd
}
