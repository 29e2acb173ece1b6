package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
)

// newChannelCmd groups channel registry commands.
func newChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manages tracked channels",
	}
	cmd.AddCommand(newChannelAddCmd(), newChannelListCmd(), newChannelUpdateCmd(), newChannelResetCmd())
	return cmd
}

func newChannelAddCmd() *cobra.Command {
	var in crawler.ChannelInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Resolves a handle and registers the channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ch, err := appInstance.Channels().Insert(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, ch)
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name of the channel")
	cmd.Flags().StringVar(&in.Handle, "handle", "", "channel handle, with or without the leading @")
	cmd.Flags().StringVar(&in.StreamerName, "streamer", "", "streamer the channel belongs to")
	return cmd
}

func newChannelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists tracked channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			channels, err := appInstance.Channels().List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, channels)
		},
	}
}

func newChannelUpdateCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "update [channel-id]",
		Short: "Updates channel metadata; only flags that are set change",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := patchFromFlags(cmd)
			if len(args) == 0 && !all {
				return errors.New("a channel id or --all is required")
			}
			if len(args) == 1 && all {
				return errors.New("--all cannot be combined with a channel id")
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if all {
				updated, err := appInstance.Channels().BulkUpdate(cmd.Context(), patch)
				if err != nil {
					return err
				}
				return printJSON(cmd, updated)
			}
			updated, err := appInstance.Channels().Update(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return printJSON(cmd, updated)
		},
	}
	cmd.Flags().String("name", "", "new display name")
	cmd.Flags().String("handle", "", "new handle")
	cmd.Flags().String("streamer", "", "new streamer name")
	cmd.Flags().BoolVar(&all, "all", false, "apply the change to every channel")
	return cmd
}

func patchFromFlags(cmd *cobra.Command) crawler.ChannelPatch {
	var patch crawler.ChannelPatch
	pick := func(flag string) *string {
		if !cmd.Flags().Changed(flag) {
			return nil
		}
		v, _ := cmd.Flags().GetString(flag)
		return &v
	}
	patch.Name = pick("name")
	patch.Handle = pick("handle")
	patch.StreamerName = pick("streamer")
	return patch
}

func newChannelResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <channel-id>",
		Short: "Deletes a channel's videos and queues it for a fresh backfill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ch, err := appInstance.Channels().ResetForBackfill(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, ch)
		},
	}
}
