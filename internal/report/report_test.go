package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintSkipsEmptySections(t *testing.T) {
	var buf bytes.Buffer
	r := &Report{Sections: []Section{
		{Name: "commands", Title: "Filtered commands executed:", Always: true},
		{Name: "hosts", Title: "Hosts contacted:"},
		{Name: "filesystem", Title: "File system changes:", Lines: []string{"changed: etc/passwd\n"}},
		{Name: "processes", Title: "New processes running after the build:", Lines: []string{"  - nc -l 4444"}},
	}}
	require.NoError(t, NewPrinter(&buf, false).Print(r))

	want := "Filtered commands executed:\n" +
		"File system changes:\n" +
		"changed: etc/passwd\n" +
		"New processes running after the build:\n" +
		"  - nc -l 4444\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, 2, r.Anomalies())
}

func TestSectionLookup(t *testing.T) {
	r := &Report{Sections: []Section{{Name: "hosts", Lines: []string{"x"}}}}
	s, ok := r.Section("hosts")
	assert.True(t, ok)
	assert.Len(t, s.Lines, 1)
	_, ok = r.Section("nope")
	assert.False(t, ok)
}
