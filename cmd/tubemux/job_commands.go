package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"tubemux/internal/api"
	"tubemux/internal/catalog"
	"tubemux/internal/config"
	"tubemux/internal/fileutil"
)

const pollInterval = time.Second

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var tier string
	var wait bool
	var playlist playlistFlags

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Queue a download on the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := playlist.validate(); err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				if playlist.applies(args[0]) {
					return submitPlaylist(cmd, ctx, client, args[0], tier, playlist.maxItems, wait)
				}
				job, err := client.Submit(cmd.Context(), args[0], tier)
				if err != nil {
					return err
				}
				if wait {
					job, err = waitForJob(cmd.Context(), client, job.ID, cmd.ErrOrStderr())
					if err != nil {
						return err
					}
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, job)
				}
				if !wait {
					fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%s)\n", job.ID, job.Tier)
					return nil
				}
				return printJob(cmd, job)
			})
		},
	}
	cmd.Flags().StringVarP(&tier, "tier", "t", "best", "Quality tier (best, 2160p ... 360p, audio)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	playlist.register(cmd)
	return cmd
}

// playlistFlags selects playlist mode. URLs naming a playlist page switch it
// on without --playlist.
type playlistFlags struct {
	force    bool
	maxItems int
}

func (p *playlistFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&p.force, "playlist", false, "Treat the URL as a playlist and queue one job per entry")
	cmd.Flags().IntVar(&p.maxItems, "max-items", 0, "Limit playlist mode to the first N entries (0 means all)")
}

func (p *playlistFlags) validate() error {
	if p.maxItems < 0 {
		return fmt.Errorf("--max-items must not be negative")
	}
	return nil
}

func (p *playlistFlags) applies(rawURL string) bool {
	return p.force || catalog.IsPlaylistURL(rawURL)
}

func submitPlaylist(cmd *cobra.Command, ctx *commandContext, client *api.Client, rawURL, tier string, maxItems int, wait bool) error {
	resp, err := client.SubmitPlaylist(cmd.Context(), rawURL, tier, maxItems)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !wait {
		if ctx.jsonMode() {
			return writeJSON(cmd, resp)
		}
		fmt.Fprintf(out, "Submitted %d jobs from playlist %s\n", len(resp.Jobs), playlistTitle(resp.Title))
		for _, job := range resp.Jobs {
			fmt.Fprintf(out, "  %s  %s\n", job.ID, job.URL)
		}
		return nil
	}

	failed := 0
	for i, job := range resp.Jobs {
		done, err := waitForJob(cmd.Context(), client, job.ID, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		resp.Jobs[i] = done
		if done.Status != "ready" {
			failed++
		}
		if !ctx.jsonMode() {
			fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(resp.Jobs), jobOutcome(done))
		}
	}
	if ctx.jsonMode() {
		if err := writeJSON(cmd, resp); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d playlist jobs", errJobFailed, failed, len(resp.Jobs))
	}
	return nil
}

func playlistTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return fmt.Sprintf("%q", title)
}

// jobOutcome is a one-line summary of a finished job.
func jobOutcome(job api.JobView) string {
	if job.Status == "ready" {
		return fmt.Sprintf("%s ready: %s", job.ID, job.OutputPath)
	}
	detail := job.ErrorMessage
	if detail == "" {
		detail = job.Status
	}
	return fmt.Sprintf("%s %s: %s", job.ID, job.Status, detail)
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show a job, or the daemon when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				if len(args) == 0 {
					status, err := client.Status(cmd.Context())
					if err != nil {
						return err
					}
					if ctx.jsonMode() {
						return writeJSON(cmd, status)
					}
					printDaemonStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
					return nil
				}
				job, err := client.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, job)
				}
				return printJob(cmd, job)
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				list, err := client.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, api.JobListResponse{Jobs: list})
				}
				out := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Status", "Tier", "Progress", "Title", "Updated"},
					jobRows(list),
					4,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma separated)")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonMode() {
					return writeJSON(cmd, job)
				}
				if job.Terminal {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s already finished (%s)\n", job.ID, job.Status)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", job.ID)
				return nil
			})
		},
	}
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <job-id>",
		Short: "Download the artifact of a ready job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				return fetchArtifact(cmd, client, args[0], output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory (default: current directory)")
	return cmd
}

// fetchArtifact downloads into a temporary file next to the destination and
// moves it into place once complete without replacing an existing file.
func fetchArtifact(cmd *cobra.Command, client *api.Client, id, output string) error {
	destDir := "."
	destName := ""
	if output = strings.TrimSpace(output); output != "" {
		expanded, err := config.ExpandPath(output)
		if err != nil {
			return err
		}
		if info, err := os.Stat(expanded); err == nil && info.IsDir() {
			destDir = expanded
		} else {
			destDir, destName = filepath.Split(expanded)
			if destDir == "" {
				destDir = "."
			}
		}
	}

	tmp, err := os.CreateTemp(destDir, ".tubemux-fetch-*")
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	filename, written, err := client.Download(cmd.Context(), id, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if destName == "" {
		destName = filepath.Base(filename)
	}
	target := filepath.Join(destDir, destName)
	if _, err := fileutil.MoveNoReplace(tmpPath, target); err != nil {
		if errors.Is(err, fileutil.ErrDestinationExists) {
			return fmt.Errorf("destination %s already exists", target)
		}
		return fmt.Errorf("move download into place: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", target, humanize.IBytes(uint64(written)))
	return nil
}

// waitForJob polls until the job is terminal, reporting progress on progressOut.
func waitForJob(ctx context.Context, client *api.Client, id string, progressOut io.Writer) (api.JobView, error) {
	colorize := shouldColorize(progressOut)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	lastLine := ""
	for {
		job, err := client.Get(ctx, id)
		if err != nil {
			return api.JobView{}, err
		}
		if job.Terminal {
			if colorize && lastLine != "" {
				fmt.Fprintln(progressOut)
			}
			return job, nil
		}
		if line := progressText(job); line != lastLine {
			if colorize {
				fmt.Fprintf(progressOut, "\r\x1b[K%s", line)
			} else {
				fmt.Fprintln(progressOut, line)
			}
			lastLine = line
		}
		select {
		case <-ctx.Done():
			return api.JobView{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

var errJobFailed = errors.New("job did not complete")

func printJob(cmd *cobra.Command, job api.JobView) error {
	out := cmd.OutOrStdout()
	for _, line := range jobDetailLines(job, shouldColorize(out)) {
		fmt.Fprintln(out, line)
	}
	if job.Terminal && job.Status != "ready" {
		return fmt.Errorf("%w: %s", errJobFailed, job.Status)
	}
	return nil
}

func printDaemonStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	state, kind := "Stopped", statusError
	if status.Running {
		state, kind = fmt.Sprintf("Running (pid %d)", status.PID), statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", kind, state, colorize))
	fmt.Fprintln(out, renderStatusLine("Catalog", statusInfo, status.Catalog, colorize))
	fmt.Fprintln(out, renderStatusLine("Active jobs", statusInfo, fmt.Sprintf("%d", status.Workflow.ActiveJobs), colorize))
	for _, name := range []string{"ready", "failed", "cancelled"} {
		fmt.Fprintln(out, renderStatusLine(strings.ToUpper(name[:1])+name[1:], statusInfo, fmt.Sprintf("%d", status.Workflow.JobStats[name]), colorize))
	}
	if status.Workflow.LastError != "" {
		fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, status.Workflow.LastError, colorize))
	}
	for _, dep := range status.Dependencies {
		fmt.Fprintln(out, dependencyLine(dep, colorize))
	}
}

func dependencyLine(dep api.DependencyStatus, colorize bool) string {
	if dep.Available {
		detail := dep.Version
		if detail == "" {
			detail = dep.Path
		}
		return renderStatusLine(dep.Name, statusOK, detail, colorize)
	}
	detail := strings.TrimSpace(dep.Detail)
	if detail == "" {
		detail = "not available"
	}
	kind := statusError
	if dep.Optional {
		kind = statusWarn
	}
	return renderStatusLine(dep.Name, kind, detail, colorize)
}
