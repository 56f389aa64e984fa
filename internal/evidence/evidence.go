// Package evidence reads and writes the artifacts collected from one build run.
package evidence

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	ErrMissingEvidence = errors.New("missing evidence")
	ErrCaptureDecode   = errors.New("capture decode failure")
	ErrMalformedConfig = errors.New("malformed configuration")
)

// Files are the names agreed with the orchestration side.
type Files struct {
	Commands          string `yaml:"commands"`
	Capture           string `yaml:"capture"`
	FilesystemChanges string `yaml:"filesystemChanges"`
	ProcessesBefore   string `yaml:"processesBefore"`
	ProcessesAfter    string `yaml:"processesAfter"`
	FilteredCommands  string `yaml:"filteredCommands"`
}

func DefaultFiles() Files {
	return Files{
		Commands:          "snoopy.log",
		Capture:           "packets.pcap",
		FilesystemChanges: "filesystem-changes.txt",
		ProcessesBefore:   "processes-before.txt",
		ProcessesAfter:    "processes-after.txt",
		FilteredCommands:  "filtered-commands.txt",
	}
}

// WithDefaults fills blank names.
func (f Files) WithDefaults() Files {
	d := DefaultFiles()
	if f.Commands == "" {
		f.Commands = d.Commands
	}
	if f.Capture == "" {
		f.Capture = d.Capture
	}
	if f.FilesystemChanges == "" {
		f.FilesystemChanges = d.FilesystemChanges
	}
	if f.ProcessesBefore == "" {
		f.ProcessesBefore = d.ProcessesBefore
	}
	if f.ProcessesAfter == "" {
		f.ProcessesAfter = d.ProcessesAfter
	}
	if f.FilteredCommands == "" {
		f.FilteredCommands = d.FilteredCommands
	}
	return f
}

// Path joins name onto the evidence directory.
func Path(dir, name string) string { return filepath.Join(dir, name) }

// ReadLines returns every line of path with its trailing newline kept.
// A final line without newline is returned as is.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingEvidence, err)
	}
	defer f.Close()

	var lines []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrMissingEvidence, path, err)
		}
	}
}

// WriteLines overwrites path with lines written verbatim.
func WriteLines(path string, lines []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
