package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNameservers(t *testing.T) {
	p := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(p, []byte("# generated\nnameserver 10.0.2.3\nnameserver 1.1.1.1\nsearch local\n"), 0o644))

	got, err := File{Path: p}.Nameservers()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.2.3", "1.1.1.1"}, got)
}

func TestFileMissing(t *testing.T) {
	got, err := File{Path: filepath.Join(t.TempDir(), "resolv.conf")}.Nameservers()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStaticCopies(t *testing.T) {
	s := Static{"10.0.2.3"}
	got, err := s.Nameservers()
	require.NoError(t, err)
	got[0] = "x"
	assert.Equal(t, "10.0.2.3", s[0])
}
