package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/viniciushammett/go-build-inspector/internal/report"
)

type Slack struct {
	enabled bool
	webhook string
	client  *http.Client
}

func NewSlack(enabled bool, webhook string) *Slack {
	return &Slack{enabled: enabled, webhook: webhook, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *Slack) Send(text string) error {
	if s == nil || !s.enabled || s.webhook == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	resp, err := s.client.Post(s.webhook, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook: %s", resp.Status)
	}
	return nil
}

// Format summarises a report; it returns "" when nothing was found.
func Format(r *report.Report) string {
	if r.Anomalies() == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, ":mag: *Build inspection* `%s` vm=%s: %d finding(s)\n", r.Dir, r.VMAddress, r.Anomalies())
	for _, s := range r.Sections {
		if s.Empty() {
			continue
		}
		fmt.Fprintf(&b, "*%s* %d\n```%s```\n", s.Title, len(s.Lines), strings.Join(trim(s.Lines, 10), "\n"))
	}
	return b.String()
}

func trim(lines []string, n int) []string {
	out := make([]string, 0, n)
	for i, l := range lines {
		if i == n {
			out = append(out, fmt.Sprintf("... %d more", len(lines)-n))
			break
		}
		out = append(out, strings.TrimSpace(l))
	}
	return out
}
