package report

import (
	"io"
	"strings"
	"time"

	"github.com/muesli/termenv"
)

// Section is one labelled block of the report. Lines are already formatted
// for display. A section with Always set prints its title even when empty.
type Section struct {
	Name   string   `json:"name"`
	Title  string   `json:"title"`
	Lines  []string `json:"lines"`
	Always bool     `json:"always,omitempty"`
}

func (s Section) Empty() bool { return len(s.Lines) == 0 }

func (s Section) Visible() bool { return s.Always || !s.Empty() }

type Report struct {
	ID        string    `json:"id"`
	When      time.Time `json:"when"`
	Dir       string    `json:"dir"`
	VMAddress string    `json:"vmAddress"`
	Sections  []Section `json:"sections"`
}

// Anomalies counts reported lines across every section.
func (r *Report) Anomalies() int {
	n := 0
	for _, s := range r.Sections {
		n += len(s.Lines)
	}
	return n
}

func (r *Report) Section(name string) (Section, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

type Printer struct {
	out *termenv.Output
}

// NewPrinter colours titles when w is a terminal and color is true.
func NewPrinter(w io.Writer, color bool) *Printer {
	if !color {
		return &Printer{out: termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii))}
	}
	return &Printer{out: termenv.NewOutput(w)}
}

func (p *Printer) Yellow(s string) string {
	return p.out.String(s).Foreground(termenv.ANSIYellow).String()
}

func (p *Printer) PrintSection(s Section) error {
	if !s.Visible() {
		return nil
	}
	if _, err := io.WriteString(p.out, p.Yellow(s.Title)+"\n"); err != nil {
		return err
	}
	for _, l := range s.Lines {
		if !strings.HasSuffix(l, "\n") {
			l += "\n"
		}
		if _, err := io.WriteString(p.out, l); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) Print(r *Report) error {
	for _, s := range r.Sections {
		if err := p.PrintSection(s); err != nil {
			return err
		}
	}
	return nil
}
