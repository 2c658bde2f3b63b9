package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/aeolun/termchat/pkg/database"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			summaries, err := s.store.ListChannelSummaries(cmd.Context())
			if err != nil {
				return err
			}
			sort.SliceStable(summaries, func(i, j int) bool {
				a, b := summaries[i].LastArrivedAt, summaries[j].LastArrivedAt
				if a == nil || b == nil {
					return a != nil
				}
				return *a > *b
			})

			if s.jsonMode {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No channels"))
				return nil
			}
			for _, sum := range summaries {
				kind := lo.Ternary(sum.ID.IsGroup, "group", "user ")
				last := "never"
				if sum.LastArrivedAt != nil {
					last = formatTime(*sum.LastArrivedAt)
				}
				fmt.Fprintf(out, "%s %s %s %s\n",
					dimStyle.Render(kind),
					senderStyle.Render(fmt.Sprintf("%-24s", sum.DisplayName)),
					fmt.Sprintf("%6d msgs", sum.MessageCount),
					dimStyle.Render(last),
				)
				fmt.Fprintln(out, dimStyle.Render("      "+sum.ID.String()))
			}
			return nil
		},
	}
}

func parseChannelArg(arg string) (database.ChannelID, error) {
	id, err := database.ParseChannelID(arg)
	if err != nil {
		return database.ChannelID{}, fmt.Errorf("invalid channel %q: expected a user UUID or 64 hex characters", arg)
	}
	return id, nil
}

func loadNames(ctx context.Context, store database.Store) (names, error) {
	entries, err := store.ListNames(ctx)
	if err != nil {
		return nil, err
	}
	return lo.SliceToMap(entries, func(e database.NameEntry) (uuid.UUID, string) {
		return e.ID, e.Name
	}), nil
}
