package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/aeolun/termchat/pkg/database"
	"github.com/spf13/cobra"
)

func newTimelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timeline <channel>",
		Short: "Show the visible messages of a channel",
		Long: `Show the visible messages of a channel in arrival order.

Edited messages show their latest content. Use --before/--limit to page back
through long histories; --limit 0 uses [view] page_size.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := parseChannelArg(args[0])
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			ctx := cmd.Context()
			all, _ := cmd.Flags().GetBool("all")
			before, _ := cmd.Flags().GetInt64("before")
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				limit = s.cfg.View.PageSize
			}

			var views []database.MessageView
			if all {
				views, err = s.store.ListMessages(ctx, channel)
			} else {
				views, err = s.store.ListMessagesBefore(ctx, channel, before, limit)
			}
			if err != nil {
				return err
			}

			if s.jsonMode {
				return writeJSON(cmd.OutOrStdout(), views)
			}

			n, err := loadNames(ctx, s.store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No messages"))
				return nil
			}
			for _, v := range views {
				for _, line := range formatView(v, n) {
					fmt.Fprintln(out, line)
				}
			}
			if !all && len(views) == limit {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("older: --before %d", views[0].ArrivedAt)))
			}
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "show the whole timeline")
	cmd.Flags().Int64("before", math.MaxInt64, "only messages that arrived before this key")
	cmd.Flags().Int("limit", 0, "number of messages")
	return cmd
}

func parseMessageArgs(args []string) (database.ChannelID, int64, error) {
	channel, err := parseChannelArg(args[0])
	if err != nil {
		return database.ChannelID{}, 0, err
	}
	arrivedAt, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return database.ChannelID{}, 0, fmt.Errorf("invalid arrival key %q", args[1])
	}
	return channel, arrivedAt, nil
}

func newMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <channel> <arrived_at>",
		Short: "Show one message with its resolved quote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, arrivedAt, err := parseMessageArgs(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			ctx := cmd.Context()
			view, ok, err := s.store.GetMessage(ctx, channel, arrivedAt)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %d in %s", database.ErrMessageNotFound, arrivedAt, channel)
			}

			if s.jsonMode {
				return writeJSON(cmd.OutOrStdout(), view)
			}

			n, err := loadNames(ctx, s.store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range formatView(view, n) {
				fmt.Fprintln(out, line)
			}
			if view.Edit != nil {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("revision of %d", *view.Edit)))
			}
			if view.Quote == nil && view.Message.Quote != nil {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("quotes %d (not stored)", *view.Message.Quote)))
			}
			return nil
		},
	}
}

func newEditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edits <channel> <arrived_at>",
		Short: "Show the edit history of a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, arrivedAt, err := parseMessageArgs(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd)

			ctx := cmd.Context()
			original, ok, err := s.store.GetMessage(ctx, channel, arrivedAt)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %d in %s", database.ErrMessageNotFound, arrivedAt, channel)
			}
			revisions, err := s.store.Edits(ctx, channel, arrivedAt)
			if err != nil {
				return err
			}

			if s.jsonMode {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"original":  original.Message,
					"revisions": revisions,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", dimStyle.Render(formatTime(original.ArrivedAt)), text(original.Body))
			for _, r := range revisions {
				fmt.Fprintf(out, "%s %s %s\n", dimStyle.Render(formatTime(r.ArrivedAt)), editedStyle.Render("→"), text(r.Body))
			}
			if len(revisions) == 0 {
				fmt.Fprintln(out, dimStyle.Render("never edited"))
			}
			return nil
		},
	}
}
