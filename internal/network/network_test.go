package network

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viniciushammett/go-build-inspector/internal/capture"
	"github.com/viniciushammett/go-build-inspector/internal/resolver"
)

type fakeCapture struct {
	packets []capture.Packet
	answers []capture.DNSAnswer
}

func (f fakeCapture) PacketsFrom(addr string) []capture.Packet {
	var out []capture.Packet
	for _, p := range f.packets {
		if p.Src == addr {
			out = append(out, p)
		}
	}
	return out
}

func (f fakeCapture) DNSResponses() []capture.DNSAnswer { return f.answers }

type brokenResolver struct{}

func (brokenResolver) Nameservers() ([]string, error) { return nil, errors.New("permission denied") }

const vm = "10.0.2.15"

func sample() fakeCapture {
	return fakeCapture{
		packets: []capture.Packet{
			{Src: vm, Dst: "A", Size: 100},
			{Src: vm, Dst: "A", Size: 50},
			{Src: vm, Dst: "B", Size: 2000},
			{Src: "A", Dst: vm, Size: 90000},
		},
		answers: []capture.DNSAnswer{{Name: "db.internal", Addresses: []string{"A"}}},
	}
}

func TestHostsAggregatesOutgoing(t *testing.T) {
	a := &Aggregator{VMAddress: vm}
	hosts, err := a.Hosts(sample())
	require.NoError(t, err)
	assert.Equal(t, []Host{
		{Name: "db.internal", Address: "A", Bytes: 150},
		{Name: "B", Address: "B", Bytes: 2000},
	}, hosts)

	sec := Section(hosts)
	require.Len(t, sec.Lines, 2)
	assert.Contains(t, sec.Lines[0], "db.internal (A)")
	assert.True(t, strings.HasSuffix(sec.Lines[0], "150B"))
	assert.Contains(t, sec.Lines[1], "B (B)")
	assert.True(t, strings.HasSuffix(sec.Lines[1], "2.0K"))
}

func TestWhitelistByNameOrAddress(t *testing.T) {
	a := &Aggregator{VMAddress: vm, Whitelist: []string{"db.internal"}}
	hosts, err := a.Hosts(sample())
	require.NoError(t, err)
	assert.Equal(t, []Host{{Name: "B", Address: "B", Bytes: 2000}}, hosts)

	a.Whitelist = []string{"db.internal", "B"}
	hosts, err = a.Hosts(sample())
	require.NoError(t, err)
	assert.Empty(t, hosts)
	assert.False(t, Section(hosts).Visible())
}

func TestResolverIsWhitelisted(t *testing.T) {
	c := fakeCapture{packets: []capture.Packet{{Src: vm, Dst: "10.0.2.3", Size: 64}}}

	hosts, err := (&Aggregator{VMAddress: vm}).Hosts(c)
	require.NoError(t, err)
	assert.Len(t, hosts, 1)

	hosts, err = (&Aggregator{VMAddress: vm, Resolver: resolver.Static{"10.0.2.3"}}).Hosts(c)
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestResolverError(t *testing.T) {
	_, err := (&Aggregator{VMAddress: vm, Resolver: brokenResolver{}}).Hosts(sample())
	assert.ErrorContains(t, err, "permission denied")
}

func TestDNSLastWriterWins(t *testing.T) {
	c := sample()
	c.answers = append(c.answers, capture.DNSAnswer{Name: "cache.internal", Addresses: []string{"A"}})
	hosts, err := (&Aggregator{VMAddress: vm}).Hosts(c)
	require.NoError(t, err)
	assert.Equal(t, "cache.internal", hosts[0].Name)
}

func TestFormatSize(t *testing.T) {
	tests := map[int]string{
		0:       "0B",
		999:     "999B",
		1000:    "1.0K",
		1023:    "1.0K",
		2048:    "2.0K",
		2000:    "2.0K",
		15000:   "14.6K",
		1048576: "1024.0K",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatSize(in), "size=%d", in)
	}
}

func TestFormatHostColumns(t *testing.T) {
	line := FormatHost(Host{Name: "x", Address: "1.2.3.4", Bytes: 10})
	assert.Equal(t, "  "+"x (1.2.3.4)"+strings.Repeat(" ", 60-len("x (1.2.3.4)"))+" "+strings.Repeat(" ", 7)+"10B", line)
}
