package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineBytes = 1 << 20
)

// TailOptions selects which part of the log to return.
type TailOptions struct {
	// Offset < 0 returns the last Limit lines; otherwise reading starts at Offset.
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	// Match keeps only lines containing at least one of these substrings.
	Match []string
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads lines from path according to opts. A missing file yields an
// empty result at offset 0.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}

	var result TailResult
	if opts.Offset < 0 {
		result, err = scan(path, 0, opts.Match, opts.Limit)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// Truncated or rotated: resume from the current end.
			offset = info.Size()
		}
		result, err = scan(path, offset, opts.Match, 0)
	}
	if err != nil || len(result.Lines) > 0 || !opts.Follow || opts.Wait <= 0 {
		return result, err
	}
	return follow(ctx, path, result.Offset, opts.Match, opts.Wait)
}

// scan reads from offset to EOF. When keepLast > 0 only the final keepLast
// matching lines are returned.
func scan(path string, offset int64, match []string, keepLast int) (TailResult, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return TailResult{}, nil
	}
	if err != nil {
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)

	var lines []string
	consumed := offset
	for {
		chunk, err := reader.ReadString('\n')
		if err == io.EOF {
			// A partial final line is left for the next call.
			break
		}
		if err != nil {
			return TailResult{}, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(chunk))
		line := strings.TrimRight(chunk, "\r\n")
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		if !matches(line, match) {
			continue
		}
		lines = append(lines, line)
		if keepLast > 0 && len(lines) > 2*keepLast {
			lines = append(lines[:0], lines[len(lines)-keepLast:]...)
		}
	}
	if keepLast > 0 && len(lines) > keepLast {
		lines = lines[len(lines)-keepLast:]
	}
	return TailResult{Lines: lines, Offset: consumed}, nil
}

func follow(ctx context.Context, path string, offset int64, match []string, wait time.Duration) (TailResult, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-deadline.C:
			return TailResult{Offset: offset}, nil
		case <-ticker.C:
		}
		result, err := scan(path, offset, match, 0)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		offset = result.Offset
		if len(result.Lines) > 0 {
			return result, nil
		}
	}
}

func matches(line string, needles []string) bool {
	if len(needles) == 0 {
		return true
	}
	for _, needle := range needles {
		if needle != "" && strings.Contains(line, needle) {
			return true
		}
	}
	return false
}
