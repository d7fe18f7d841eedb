package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hoardr-dl/hoardr/internal/store"
	"github.com/hoardr-dl/hoardr/internal/utils"
)

var historyCmd = &cobra.Command{
	Use:   "history [source]",
	Short: "Show recorded downloads, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := settingsForCmd(cmd)
		if err != nil {
			return err
		}
		if settings.General.HistoryPath == "" {
			return fmt.Errorf("no history database configured")
		}

		h, err := store.Open(settings.General.HistoryPath)
		if err != nil {
			return err
		}
		defer h.Close()

		source := ""
		if len(args) == 1 {
			source = args[0]
		}
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := h.List(source, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println(styleDim.Render("No downloads recorded."))
			return nil
		}
		for _, e := range entries {
			cmd.Printf("%s  %-10s %-12s %-10s %s\n",
				e.CompletedAt.Format("2006-01-02 15:04"),
				e.Source, e.RemoteID,
				utils.ConvertBytesToHumanReadable(e.Size),
				e.Filename)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "Maximum entries to show (0 = all)")
	rootCmd.AddCommand(historyCmd)
}
