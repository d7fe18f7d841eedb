package cmd

import (
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the registered content sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := settingsForCmd(cmd)
		if err != nil {
			return err
		}
		reg := builtinRegistry(settings)
		for _, name := range reg.Names() {
			line := name
			if _, ok := settings.Credentials[name]; ok {
				line += styleDim.Render("  (authenticated)")
			}
			cmd.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
