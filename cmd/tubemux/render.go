package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tubemux/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 14
	statusIndent     = "  "
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag := "INFO"
	color := ansiBlue
	switch kind {
	case statusOK:
		tag, color = "OK", ansiGreen
	case statusWarn:
		tag, color = "WARN", ansiYellow
	case statusError:
		tag, color = "ERROR", ansiRed
	}
	line := fmt.Sprintf("%s%-*s [%s]", statusIndent, statusLabelWidth, label+":", tag)
	if message != "" {
		line += " " + message
	}
	if colorize {
		return color + line + ansiReset
	}
	return line
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// jobKind maps a job status to the color used when printing it.
func jobKind(status string) statusKind {
	switch status {
	case "ready":
		return statusOK
	case "failed":
		return statusError
	case "cancelled":
		return statusWarn
	default:
		return statusInfo
	}
}

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, col := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func jobRows(list []api.JobView) [][]string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		name := job.Title
		if name == "" {
			name = job.URL
		}
		rows = append(rows, []string{
			shortID(job.ID),
			job.Status,
			job.Tier,
			fmt.Sprintf("%.0f%%", job.Progress.Percent),
			truncate(name, 48),
			job.UpdatedAt,
		})
	}
	return rows
}

func jobDetailLines(job api.JobView, colorize bool) []string {
	lines := []string{
		renderStatusLine("Job", jobKind(job.Status), fmt.Sprintf("%s (%s)", job.ID, job.Status), colorize),
		renderStatusLine("Source", statusInfo, job.URL, colorize),
		renderStatusLine("Tier", statusInfo, job.Tier, colorize),
	}
	if job.Title != "" {
		lines = append(lines, renderStatusLine("Title", statusInfo, job.Title, colorize))
	}
	if !job.Terminal {
		lines = append(lines, renderStatusLine("Progress", statusInfo, progressText(job), colorize))
	}
	if job.Status == "ready" {
		lines = append(lines, renderStatusLine("Artifact", statusOK,
			fmt.Sprintf("%s (%s)", job.OutputPath, humanize.IBytes(uint64(max(job.ArtifactSize, 0)))), colorize))
	}
	if job.ErrorMessage != "" {
		kind := statusError
		if job.Status == "cancelled" {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine("Error", kind, fmt.Sprintf("[%s] %s", job.ErrorKind, job.ErrorMessage), colorize))
	}
	if job.ErrorHint != "" {
		lines = append(lines, renderStatusLine("Hint", statusInfo, job.ErrorHint, colorize))
	}
	return lines
}

func progressText(job api.JobView) string {
	transferred := job.Video.Transferred + job.Audio.Transferred
	total := job.Video.Total + job.Audio.Total
	parts := []string{fmt.Sprintf("%s %.1f%%", job.Progress.Stage, job.Progress.Percent)}
	if total > 0 {
		parts = append(parts, fmt.Sprintf("%s / %s", humanize.IBytes(uint64(transferred)), humanize.IBytes(uint64(total))))
	}
	if job.Progress.Message != "" {
		parts = append(parts, job.Progress.Message)
	}
	return strings.Join(parts, " - ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
