package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/ytcrawler/internal/crawler"
	"github.com/JakeFAU/ytcrawler/internal/quota"
)

type quotaView struct {
	Service         string `json:"service"`
	APIKey          string `json:"api_key"`
	QuotaUsed       int    `json:"quota_used"`
	Remaining       int    `json:"remaining"`
	SearchAvailable bool   `json:"search_available"`
}

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Shows the quota ledger or rotates the Data API key",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Prints the current quota ledger with the key masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			state, err := appInstance.Quota().Load(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, viewOf(appInstance.Quota().Tracker(), state))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key>",
		Short: "Stores a new Data API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			state, err := appInstance.Quota().SetAPIKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, viewOf(appInstance.Quota().Tracker(), state))
		},
	})
	return cmd
}

func viewOf(tracker *quota.Tracker, state crawler.QuotaState) quotaView {
	return quotaView{
		Service:         state.Service,
		APIKey:          quota.MaskKey(state.APIKey),
		QuotaUsed:       state.QuotaUsed,
		Remaining:       tracker.Remaining(state),
		SearchAvailable: tracker.IsSearchQuotaAvailable(state),
	}
}
