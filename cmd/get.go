package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/hoardr-dl/hoardr/internal/engine"
	"github.com/hoardr-dl/hoardr/internal/engine/events"
	"github.com/hoardr-dl/hoardr/internal/engine/types"
	"github.com/hoardr-dl/hoardr/internal/utils"
)

var getCmd = &cobra.Command{
	Use:   "get <source>:<tags> [<source>:<tags> | <url>]...",
	Short: "Download everything matching the given queries",
	Long: `Download media for one or more (source, query) jobs. Tag queries run
against a registered source; bare URLs go through the direct adapter.

Examples:
  hoardr get rule34:tag1,tag2
  hoardr get e621:canine --max-pages 2
  hoardr get https://example.com/file.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringP("output", "o", "", "Output root directory (overrides settings)")
	getCmd.Flags().Int("max-pages", 0, "Stop paginating each query after this many pages (0 = all)")
	getCmd.Flags().Int("concurrency", 0, "Concurrent downloads (overrides settings)")
	getCmd.Flags().StringSlice("blacklist", nil, "Extra blacklisted tags for these jobs")
	getCmd.Flags().Bool("no-proxies", false, "Connect directly even if proxies are configured")
	getCmd.Flags().BoolP("quiet", "q", false, "Only print per-job summaries")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	settings, err := settingsForCmd(cmd)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if out, _ := cmd.Flags().GetString("output"); out != "" {
		settings.General.OutputDir = utils.EnsureAbsPath(out)
	}
	if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
		settings.Network.ConcurrentDownloads = c
	}
	if noProxy, _ := cmd.Flags().GetBool("no-proxies"); noProxy {
		settings.Network.UseProxies = false
	}
	if extra, _ := cmd.Flags().GetStringSlice("blacklist"); len(extra) > 0 {
		settings.Blacklist.Tags = append(settings.Blacklist.Tags, extra...)
	}
	maxPages, _ := cmd.Flags().GetInt("max-pages")
	quiet, _ := cmd.Flags().GetBool("quiet")

	session, err := engine.NewSession(settings.ToSessionConfig(), builtinRegistry(settings))
	if err != nil {
		return err
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		renderEvents(cmd, session.Events(), quiet)
	}()

	var jobIDs []string
	for _, arg := range args {
		src, query, err := ParseJobArg(arg)
		if err != nil {
			return err
		}
		query.MaxPages = maxPages

		id, err := session.Submit(types.Job{Source: src, Query: query})
		if err != nil {
			return fmt.Errorf("submit %q: %w", arg, err)
		}
		jobIDs = append(jobIDs, id)
	}

	exitErr := waitForJobs(cmd, ctx, session, jobIDs)
	session.Close()
	<-done
	return exitErr
}

func waitForJobs(cmd *cobra.Command, ctx context.Context, session *engine.Session, jobIDs []string) error {
	var failed int
	for _, id := range jobIDs {
		snap, err := session.Wait(ctx, id)
		if err != nil {
			// Interrupted: cancel everything still running and
			// let the drains finish.
			for _, jid := range jobIDs {
				session.Cancel(jid)
			}
			waitCtx := context.Background()
			snap, _ = session.Wait(waitCtx, id)
		}
		printSummary(cmd, snap)
		failed += snap.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d download(s) failed", failed)
	}
	return nil
}

func printSummary(cmd *cobra.Command, snap events.Snapshot) {
	line := fmt.Sprintf("%s [%s]: %d completed, %d failed, %d skipped, %d cancelled, %s",
		snap.Source, shortID(snap.JobID),
		snap.Completed, snap.Failed, snap.Skipped, snap.Cancelled,
		utils.ConvertBytesToHumanReadable(snap.Bytes))
	cmd.Println(styleSummary.Render(line))
	for _, e := range snap.Errors {
		cmd.Println(styleDim.Render(fmt.Sprintf("  %s (%s): %s", e.DescriptorID, e.Kind, e.Message)))
	}
}

// renderEvents consumes the session's structured event stream until the
// session closes. The engine itself never logs; this is the front end.
func renderEvents(cmd *cobra.Command, ch <-chan any, quiet bool) {
	for msg := range ch {
		if quiet {
			continue
		}
		switch m := msg.(type) {
		case events.JobQueuedMsg:
			cmd.Println(styleDim.Render(fmt.Sprintf("Queued %s [%s]", m.Source, shortID(m.JobID))))
		case events.TaskCompletedMsg:
			label := "Completed"
			if m.Resumed {
				label = "Exists"
			}
			cmd.Println(styleOK.Render(label+": ") + fmt.Sprintf("%s (%s)", m.Filename, utils.ConvertBytesToHumanReadable(m.Bytes)))
		case events.TaskSkippedMsg:
			cmd.Println(styleDim.Render(fmt.Sprintf("Skipped %s: %s", m.ID, m.Reason)))
		case events.TaskFailedMsg:
			cmd.Println(styleErr.Render("Failed: ") + fmt.Sprintf("%s after %d attempts: %v", m.Filename, m.Attempts, m.Err))
		case events.TaskRetryMsg:
			cmd.Println(styleWarn.Render(fmt.Sprintf("Retrying %s in %s (attempt %d): %v", m.ID, m.Delay, m.Attempt, m.Err)))
		case events.DegradedModeMsg:
			cmd.Println(styleWarn.Render(fmt.Sprintf("All %d proxies unhealthy, continuing without proxies", m.Unhealthy)))
		case events.ProxyRestoredMsg:
			cmd.Println(styleDim.Render("Proxy restored: " + m.Address))
		case events.RateLimitedMsg:
			cmd.Println(styleWarn.Render(fmt.Sprintf("Rate limited by %s, throttled until %s", m.Source, m.Until.Format("15:04:05"))))
		}
	}
}
