package filesystem

import (
	"github.com/viniciushammett/go-build-inspector/internal/evidence"
	"github.com/viniciushammett/go-build-inspector/internal/report"
)

const (
	SectionName = "filesystem"
	Title       = "File system changes:"
)

// DefaultIgnore lists collector and rdiff-backup output that carries no information.
var DefaultIgnore = []string{
	"no changes\n",
	"changed: home/vagrant\n",
	"No changes found.  Directory matches archive data.\n",
}

type Reporter struct {
	Ignore []string
}

func New(extra ...string) *Reporter {
	ign := append([]string(nil), DefaultIgnore...)
	for _, e := range extra {
		if e == "" {
			continue
		}
		if e[len(e)-1] != '\n' {
			e += "\n"
		}
		ign = append(ign, e)
	}
	return &Reporter{Ignore: ign}
}

// Changes drops every occurrence of an ignored line.
func (r *Reporter) Changes(lines []string) []string {
	skip := make(map[string]struct{}, len(r.Ignore))
	for _, l := range r.Ignore {
		skip[l] = struct{}{}
	}
	var out []string
	for _, l := range lines {
		if _, ok := skip[l]; !ok {
			out = append(out, l)
		}
	}
	return out
}

func Section(changes []string) report.Section {
	return report.Section{Name: SectionName, Title: Title, Lines: changes}
}

func (r *Reporter) Run(path string) (report.Section, error) {
	lines, err := evidence.ReadLines(path)
	if err != nil {
		return report.Section{}, err
	}
	return Section(r.Changes(lines)), nil
}
