package commands

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/viniciushammett/go-build-inspector/internal/baseline"
	"github.com/viniciushammett/go-build-inspector/internal/evidence"
	"github.com/viniciushammett/go-build-inspector/internal/report"
)

const (
	SectionName = "commands"
	Title       = "Filtered commands executed:"

	// DiagnosticMarker identifies the inline perl diagnostic run by the provisioning step.
	DiagnosticMarker = "filename:/usr/bin/perl]: /usr/bin/perl -e"
	// DiagnosticDigest is the sha256 of a verified diagnostic run.
	DiagnosticDigest = "f25df829a02c9b3fc3cba4d4651c9d5c045bd7dbb1958fba91bb79a31ac83c7f"
	// DiagnosticWindowEnd is the absolute index where the diagnostic output ends.
	DiagnosticWindowEnd = 29
)

type Filter struct {
	Baseline  *baseline.Set
	Marker    string
	Digest    string
	WindowEnd int
}

func New(bs *baseline.Set) *Filter {
	return &Filter{
		Baseline:  bs,
		Marker:    DiagnosticMarker,
		Digest:    DiagnosticDigest,
		WindowEnd: DiagnosticWindowEnd,
	}
}

// Stats describes what one Apply removed.
type Stats struct {
	Input     int
	Baseline  int
	Excised   int
	Remaining int
}

func (f *Filter) Apply(lines []string) []string {
	out, _ := f.ApplyStats(lines)
	return out
}

func (f *Filter) ApplyStats(lines []string) ([]string, Stats) {
	st := Stats{Input: len(lines)}
	out := append([]string(nil), lines...)
	if f.Baseline != nil {
		out = f.Baseline.Filter(out)
	}
	st.Baseline = st.Input - len(out)

	marker := unquote(f.Marker)
	var hits []string
	for _, l := range out {
		if strings.Contains(unquote(l), marker) {
			hits = append(hits, l)
		}
	}
	for _, h := range hits {
		idx := indexOf(out, h)
		if idx < 0 {
			continue
		}
		// The window always ends at WindowEnd, wherever the marker is.
		end := min(f.WindowEnd, len(out)-1)
		if idx > end {
			continue
		}
		if digest(out[idx:end+1]) != f.Digest {
			continue
		}
		st.Excised += end + 1 - idx
		out = append(out[:idx], out[end+1:]...)
	}
	st.Remaining = len(out)
	return out, st
}

func Section(lines []string) report.Section {
	s := report.Section{Name: SectionName, Title: Title, Always: true}
	for _, l := range lines {
		s.Lines = append(s.Lines, "  "+l)
	}
	return s
}

// Run filters the audit log at src and persists the survivors to dst.
func (f *Filter) Run(src, dst string) (report.Section, Stats, error) {
	lines, err := evidence.ReadLines(src)
	if err != nil {
		return report.Section{}, Stats{}, err
	}
	out, st := f.ApplyStats(lines)
	if err := evidence.WriteLines(dst, out); err != nil {
		return report.Section{}, st, err
	}
	return Section(out), st, nil
}

func digest(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func indexOf(lines []string, v string) int {
	for i, l := range lines {
		if l == v {
			return i
		}
	}
	return -1
}

func unquote(s string) string {
	return strings.NewReplacer(`"`, "", `'`, "").Replace(s)
}
