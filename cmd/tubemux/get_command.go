package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"tubemux/internal/api"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/media"
	"tubemux/internal/workflow"
)

const oneShotPollInterval = 500 * time.Millisecond

// oneShotOptions is appended to the manager options of get; tests use it to
// swap the catalog source.
var oneShotOptions []workflow.ManagerOption

func newGetCommand(ctx *commandContext) *cobra.Command {
	var tier string
	var verbose bool
	var playlist playlistFlags

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Download, mux and publish a URL in this process without a daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := playlist.validate(); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			level := "warn"
			if verbose {
				level = cfg.Logging.Level
			}
			logger, err := logging.New(logging.Options{
				Level:  level,
				Format: cfg.Logging.Format,
				Writer: cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			// One-shot jobs keep their records out of the daemon's database.
			stateDir, err := os.MkdirTemp("", "tubemux-get-")
			if err != nil {
				return fmt.Errorf("create state directory: %w", err)
			}
			defer os.RemoveAll(stateDir)
			store, err := jobs.OpenPath(filepath.Join(stateDir, "jobs.db"))
			if err != nil {
				return err
			}
			defer store.Close()

			mgr, err := workflow.NewManager(cfg, store, logger, oneShotOptions...)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = mgr.Shutdown(shutdownCtx)
			}()

			if playlist.applies(args[0]) {
				return getPlaylist(cmd, ctx, mgr, args[0], tier, playlist.maxItems)
			}
			job, err := getOne(cmd, mgr, args[0], tier)
			if err != nil {
				return err
			}
			view := api.FromJob(&job)
			if ctx.jsonMode() {
				if err := writeJSON(cmd, view); err != nil {
					return err
				}
				if job.Status != jobs.StatusReady {
					return fmt.Errorf("%w: %s", errJobFailed, job.Status)
				}
				return nil
			}
			return printJob(cmd, view)
		},
	}
	cmd.Flags().StringVarP(&tier, "tier", "t", "best", "Quality tier (best, 2160p ... 360p, audio)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline events at the configured level")
	playlist.register(cmd)
	return cmd
}

func getOne(cmd *cobra.Command, mgr *workflow.Manager, rawURL, tier string) (jobs.Job, error) {
	id, err := mgr.Submit(cmd.Context(), rawURL, tier)
	if err != nil {
		return jobs.Job{}, err
	}
	return followOneShot(cmd.Context(), mgr, id, cmd)
}

// getPlaylist downloads playlist entries one after another. An interrupt
// stops after the current entry's cleanup.
func getPlaylist(cmd *cobra.Command, ctx *commandContext, mgr *workflow.Manager, rawURL, tier string, maxItems int) error {
	if _, err := media.ParseTier(tier); err != nil {
		return err
	}
	listed, err := mgr.ExpandPlaylist(cmd.Context(), rawURL, maxItems)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ctx.jsonMode() {
		fmt.Fprintf(out, "Playlist %s: %d entries\n", playlistTitle(listed.Title), len(listed.Entries))
	}

	resp := api.PlaylistResponse{Title: listed.Title}
	failed := 0
	for i, entry := range listed.Entries {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		job, err := getOne(cmd, mgr, entry.URL, tier)
		if err != nil {
			return err
		}
		view := api.FromJob(&job)
		resp.Jobs = append(resp.Jobs, view)
		if job.Status != jobs.StatusReady {
			failed++
		}
		if !ctx.jsonMode() {
			fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(listed.Entries), jobOutcome(view))
		}
	}
	if ctx.jsonMode() {
		if err := writeJSON(cmd, resp); err != nil {
			return err
		}
	}
	if err := cmd.Context().Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d playlist entries", errJobFailed, failed, len(listed.Entries))
	}
	return nil
}

// followOneShot reports progress until the job finishes. An interrupt cancels
// the job and waits for its cleanup before returning.
func followOneShot(ctx context.Context, mgr *workflow.Manager, id string, cmd *cobra.Command) (jobs.Job, error) {
	type result struct {
		job jobs.Job
		err error
	}
	done := make(chan result, 1)
	go func() {
		job, err := mgr.Wait(context.Background(), id)
		done <- result{job: job, err: err}
	}()

	progressOut := cmd.ErrOrStderr()
	colorize := shouldColorize(progressOut)
	ticker := time.NewTicker(oneShotPollInterval)
	defer ticker.Stop()
	interrupted := ctx.Done()
	lastLine := ""
	for {
		select {
		case res := <-done:
			if colorize && lastLine != "" {
				fmt.Fprintln(progressOut)
			}
			return res.job, res.err
		case <-interrupted:
			interrupted = nil
			_ = mgr.Cancel(context.Background(), id)
		case <-ticker.C:
			job, err := mgr.Poll(context.Background(), id)
			if err != nil || job.Status.IsTerminal() {
				continue
			}
			line := progressText(api.FromJob(&job))
			if line == lastLine {
				continue
			}
			if colorize {
				fmt.Fprintf(progressOut, "\r\x1b[K%s", line)
			} else {
				fmt.Fprintln(progressOut, line)
			}
			lastLine = line
		}
	}
}
