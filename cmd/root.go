package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Styles for event rendering.
var (
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleSummary = lipgloss.NewStyle().Bold(true)
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "hoardr",
	Short:   "A rate-limited, proxy-aware media downloader for tag-driven sources",
	Long: `hoardr fetches media from tag-driven content sources through a bounded
worker pool with per-source rate limits, rotating proxies, blacklist
filtering, and resumable downloads.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styleErr.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to settings file (default ~/.hoardr/settings.json)")
	rootCmd.SetVersionTemplate("hoardr version {{.Version}}\n")
}
