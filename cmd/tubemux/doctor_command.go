package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tubemux/internal/api"
	"tubemux/internal/preflight"
)

type doctorCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, free space, external tools and the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			checks := make([]doctorCheck, 0, len(results)+1)
			for _, r := range results {
				checks = append(checks, doctorCheck{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
			}
			checks = append(checks, daemonCheck(cmd.Context(), ctx.apiAddress(), cfg.Paths.APIToken))

			failed := len(preflight.Failed(results))
			if ctx.jsonMode() {
				if err := writeJSON(cmd, map[string]any{"checks": checks}); err != nil {
					return err
				}
			} else {
				rows := make([][]string, 0, len(checks))
				for _, c := range checks {
					state := "OK"
					if !c.Passed {
						state = "FAIL"
					}
					rows = append(rows, []string{c.Name, state, c.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows))
			}
			if failed > 0 {
				return fmt.Errorf("%d preflight checks failed", failed)
			}
			return nil
		},
	}
}

// daemonCheck is informational: get works without a daemon, so an unreachable
// daemon never fails doctor.
func daemonCheck(ctx context.Context, addr, token string) doctorCheck {
	check := doctorCheck{Name: "Daemon", Passed: true}
	client, err := api.NewClient(addr, token)
	if err != nil {
		check.Detail = "not configured (paths.api_bind empty)"
		return check
	}
	statusCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := client.Status(statusCtx)
	if err != nil {
		check.Detail = fmt.Sprintf("not reachable at %s", addr)
		return check
	}
	check.Detail = fmt.Sprintf("running at %s (pid %d, %d active jobs)", addr, status.PID, status.Workflow.ActiveJobs)
	return check
}
