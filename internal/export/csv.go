package export

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/viniciushammett/go-build-inspector/internal/report"
)

// WriteCSV writes one row per reported line.
func WriteCSV(w io.Writer, reports []report.Report) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "when", "dir", "vm", "section", "line"})
	for _, r := range reports {
		for _, s := range r.Sections {
			for _, l := range s.Lines {
				_ = cw.Write([]string{
					r.ID, r.When.Format(time.RFC3339), r.Dir, r.VMAddress, s.Name, strings.TrimSpace(l),
				})
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
