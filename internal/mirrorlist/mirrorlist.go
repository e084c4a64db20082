// Package mirrorlist renders ranked mirrors as a pacman-style mirrorlist file.
package mirrorlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/mirrorrank/internal/mirror"
)

// Stdout is the output path that writes to standard output.
const Stdout = "-"

// Header describes the comment block written above the mirror lines.
type Header struct {
	Source    string
	Generated time.Time
	Ranked    int
	Probed    int
}

// Render returns one line per ranked mirror, in rank order.
func Render(ranked []mirror.RankedMirror) []string {
	lines := make([]string, 0, len(ranked))
	for _, r := range ranked {
		lines = append(lines, r.Line)
	}
	return lines
}

// Encode writes the optional header followed by the lines to w.
func Encode(w io.Writer, lines []string, header *Header) error {
	bw := bufio.NewWriter(w)
	if header != nil {
		fmt.Fprintln(bw, "##")
		fmt.Fprintln(bw, "## Arch Linux repository mirrorlist")
		fmt.Fprintln(bw, "## Generated by mirrorrank")
		fmt.Fprintf(bw, "## When: %s\n", header.Generated.UTC().Format(time.RFC3339))
		if header.Source != "" {
			fmt.Fprintf(bw, "## From: %s\n", header.Source)
		}
		fmt.Fprintf(bw, "## Ranked: %d of %d probed mirrors\n", header.Ranked, header.Probed)
		fmt.Fprintln(bw, "##")
		fmt.Fprintln(bw)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return fmt.Errorf("writing mirror line: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing mirrorlist: %w", err)
	}
	return nil
}

// Write stores the mirrorlist at path, replacing any existing file
// atomically. Path "-" writes to stdout.
func Write(path string, lines []string, header *Header) error {
	if path == Stdout || path == "" {
		return Encode(os.Stdout, lines, header)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mirrorlist-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := Encode(tmp, lines, header); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("setting file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
