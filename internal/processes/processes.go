package processes

import (
	"strings"

	"github.com/viniciushammett/go-build-inspector/internal/evidence"
	"github.com/viniciushammett/go-build-inspector/internal/report"
)

const (
	SectionName = "processes"
	Title       = "New processes running after the build:"
)

// Delta returns the lines of after not accounted for in before. Each line of
// after consumes at most one equal line of before.
func Delta(before, after []string) []string {
	seen := make(map[string]int, len(before))
	for _, b := range before {
		seen[b]++
	}
	var out []string
	for _, a := range after {
		if seen[a] > 0 {
			seen[a]--
			continue
		}
		out = append(out, a)
	}
	return out
}

func Section(procs []string) report.Section {
	s := report.Section{Name: SectionName, Title: Title}
	for _, p := range procs {
		s.Lines = append(s.Lines, "  - "+strings.TrimRight(p, "\n"))
	}
	return s
}

func Run(beforePath, afterPath string) (report.Section, error) {
	before, err := evidence.ReadLines(beforePath)
	if err != nil {
		return report.Section{}, err
	}
	after, err := evidence.ReadLines(afterPath)
	if err != nil {
		return report.Section{}, err
	}
	return Section(Delta(before, after)), nil
}
