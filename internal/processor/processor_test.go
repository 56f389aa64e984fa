package processor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/go-build-inspector/internal/baseline"
	"github.com/viniciushammett/go-build-inspector/internal/capture"
	"github.com/viniciushammett/go-build-inspector/internal/evidence"
	"github.com/viniciushammett/go-build-inspector/internal/logger"
	"github.com/viniciushammett/go-build-inspector/internal/report"
	"github.com/viniciushammett/go-build-inspector/internal/resolver"
)

type fakeCapture struct{ packets []capture.Packet }

func (f fakeCapture) PacketsFrom(addr string) []capture.Packet {
	var out []capture.Packet
	for _, p := range f.packets {
		if p.Src == addr {
			out = append(out, p)
		}
	}
	return out
}
func (fakeCapture) DNSResponses() []capture.DNSAnswer {
	return []capture.DNSAnswer{{Name: "rubygems.org", Addresses: []string{"151.101.1.227"}}}
}

const vm = "10.0.2.15"

func writeEvidence(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}

func fullEvidence() map[string]string {
	return map[string]string{
		"snoopy.log": "[uid:1000 sid:11 tty:(none) cwd:/home/vagrant filename:/bin/rm]: rm /tmp/vagrantCommands.sh\n" +
			"[uid:1000 sid:11 tty:(none) cwd:/home/vagrant/repo filename:/usr/bin/curl]: curl http://evil.example\n",
		"filesystem-changes.txt": "changed: home/vagrant\nnew: etc/cron.d/job\n",
		"processes-before.txt":   "init\n",
		"processes-after.txt":    "init\nminer --pool x\n",
	}
}

func newProcessor(t *testing.T, c capture.Capture) *Processor {
	t.Helper()
	bs, err := baseline.Default(nil)
	require.NoError(t, err)
	return New(logger.Nop(), Deps{
		Baseline:    bs,
		Resolver:    resolver.Static{"10.0.2.3"},
		OpenCapture: func(context.Context, string) (capture.Capture, error) { return c, nil },
	})
}

func TestProcessFullReport(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		dir := t.TempDir()
		writeEvidence(t, dir, fullEvidence())
		c := fakeCapture{packets: []capture.Packet{
			{Src: vm, Dst: "151.101.1.227", Size: 4096},
			{Src: vm, Dst: "10.0.2.3", Size: 80},
			{Src: vm, Dst: "203.0.113.9", Size: 300},
		}}

		r, err := newProcessor(t, c).Process(context.Background(), Options{
			Dir: dir, VMAddress: vm, Whitelist: []string{"rubygems.org"}, Parallel: parallel,
		})
		require.NoError(t, err)
		require.Len(t, r.Sections, 4)
		assert.Equal(t, []string{"commands", "hosts", "filesystem", "processes"},
			[]string{r.Sections[0].Name, r.Sections[1].Name, r.Sections[2].Name, r.Sections[3].Name})
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, 4, r.Anomalies())

		var buf bytes.Buffer
		require.NoError(t, report.NewPrinter(&buf, false).Print(r))
		out := buf.String()
		assert.True(t, strings.HasPrefix(out, "Filtered commands executed:\n  [uid:1000 sid:11"))
		assert.Contains(t, out, "Hosts contacted:\n  203.0.113.9 (203.0.113.9)")
		assert.Contains(t, out, "File system changes:\nnew: etc/cron.d/job\n")
		assert.Contains(t, out, "New processes running after the build:\n  - miner --pool x\n")
		assert.NotContains(t, out, "rubygems.org")
		assert.NotContains(t, out, "vagrantCommands")

		b, err := os.ReadFile(filepath.Join(dir, "filtered-commands.txt"))
		require.NoError(t, err)
		assert.Equal(t, "[uid:1000 sid:11 tty:(none) cwd:/home/vagrant/repo filename:/usr/bin/curl]: curl http://evil.example\n", string(b))
	}
}

func TestProcessQuietBuild(t *testing.T) {
	dir := t.TempDir()
	writeEvidence(t, dir, map[string]string{
		"snoopy.log":             "[uid:1000 sid:1 tty:(none) cwd:/home/vagrant filename:/usr/bin/locale]: locale -a\n",
		"filesystem-changes.txt": "No changes found.  Directory matches archive data.\n",
		"processes-before.txt":   "init\n",
		"processes-after.txt":    "init\n",
	})

	r, err := newProcessor(t, fakeCapture{}).Process(context.Background(), Options{Dir: dir, VMAddress: vm})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.NewPrinter(&buf, false).Print(r))
	assert.Equal(t, "Filtered commands executed:\n", buf.String())
}

func TestProcessMissingEvidence(t *testing.T) {
	files := fullEvidence()
	delete(files, "processes-after.txt")
	dir := t.TempDir()
	writeEvidence(t, dir, files)

	_, err := newProcessor(t, fakeCapture{}).Process(context.Background(), Options{Dir: dir, VMAddress: vm})
	require.Error(t, err)
	assert.True(t, errors.Is(err, evidence.ErrMissingEvidence))
	assert.True(t, strings.HasPrefix(err.Error(), "processes:"))
}

func TestProcessMissingCapture(t *testing.T) {
	dir := t.TempDir()
	writeEvidence(t, dir, fullEvidence())
	bs, err := baseline.Default(nil)
	require.NoError(t, err)

	p := New(logger.Nop(), Deps{Baseline: bs, Resolver: resolver.Static{}})
	_, err = p.Process(context.Background(), Options{Dir: dir, VMAddress: vm, Parallel: true})
	assert.True(t, errors.Is(err, evidence.ErrMissingEvidence))
}

func TestProcessRequiresOptions(t *testing.T) {
	p := newProcessor(t, fakeCapture{})
	_, err := p.Process(context.Background(), Options{VMAddress: vm})
	assert.True(t, errors.Is(err, evidence.ErrMalformedConfig))
	_, err = p.Process(context.Background(), Options{Dir: t.TempDir()})
	assert.True(t, errors.Is(err, evidence.ErrMalformedConfig))
}

func TestProcessCancelled(t *testing.T) {
	dir := t.TempDir()
	writeEvidence(t, dir, fullEvidence())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newProcessor(t, fakeCapture{}).Process(ctx, Options{Dir: dir, VMAddress: vm})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParallelFailureCancelsOtherStages(t *testing.T) {
	files := fullEvidence()
	delete(files, "snoopy.log")
	dir := t.TempDir()
	writeEvidence(t, dir, files)
	bs, err := baseline.Default(nil)
	require.NoError(t, err)

	// the capture only opens once its context is done
	p := New(logger.Nop(), Deps{
		Baseline: bs,
		Resolver: resolver.Static{},
		OpenCapture: func(ctx context.Context, _ string) (capture.Capture, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = p.Process(ctx, Options{Dir: dir, VMAddress: vm, Parallel: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, evidence.ErrMissingEvidence), err.Error())
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
