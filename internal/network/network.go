package network

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/viniciushammett/go-build-inspector/internal/capture"
	"github.com/viniciushammett/go-build-inspector/internal/report"
	"github.com/viniciushammett/go-build-inspector/internal/resolver"
)

const (
	SectionName = "hosts"
	Title       = "Hosts contacted:"

	kilobyte = 1024.0
)

type Host struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Bytes   int    `json:"bytes"`
}

type Aggregator struct {
	VMAddress string
	Whitelist []string
	Resolver  resolver.Source
}

// Hosts returns the non-whitelisted destinations the VM sent traffic to,
// ordered by address.
func (a *Aggregator) Hosts(c capture.Capture) ([]Host, error) {
	sizes := map[string]int{}
	for _, p := range c.PacketsFrom(a.VMAddress) {
		sizes[p.Dst] += p.Size
	}

	names := map[string]string{}
	for _, ans := range c.DNSResponses() {
		for _, addr := range ans.Addresses {
			names[addr] = ans.Name
		}
	}

	allowed := map[string]struct{}{}
	for _, w := range a.Whitelist {
		allowed[w] = struct{}{}
	}
	// resolver traffic is expected
	if a.Resolver != nil {
		ns, err := a.Resolver.Nameservers()
		if err != nil {
			return nil, fmt.Errorf("resolver config: %w", err)
		}
		for _, n := range ns {
			allowed[n] = struct{}{}
		}
	}

	var out []Host
	for addr, n := range sizes {
		name, ok := names[addr]
		if !ok {
			name = addr
		}
		_, byName := allowed[name]
		_, byAddr := allowed[addr]
		if byName || byAddr {
			continue
		}
		out = append(out, Host{Name: name, Address: addr, Bytes: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func Section(hosts []Host) report.Section {
	s := report.Section{Name: SectionName, Title: Title}
	for _, h := range hosts {
		s.Lines = append(s.Lines, FormatHost(h))
	}
	return s
}

func FormatHost(h Host) string {
	return fmt.Sprintf("  %-60s %10s", h.Name+" ("+h.Address+")", FormatSize(h.Bytes))
}

// FormatSize keeps the historical 1000 threshold with a 1024 divisor.
func FormatSize(n int) string {
	if n < 1000 {
		return strconv.Itoa(n) + "B"
	}
	k := math.Round(float64(n)/kilobyte*10) / 10
	return strconv.FormatFloat(k, 'f', 1, 64) + "K"
}
