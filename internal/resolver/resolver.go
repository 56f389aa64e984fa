// Package resolver reports which nameservers the host is configured to use.
package resolver

import (
	"errors"
	"io/fs"

	"github.com/miekg/dns"
)

const DefaultResolvConf = "/etc/resolv.conf"

type Source interface {
	Nameservers() ([]string, error)
}

// Static is a fixed list, for tests and explicit configuration.
type Static []string

func (s Static) Nameservers() ([]string, error) { return append([]string(nil), s...), nil }

// File reads a resolv.conf style file. A missing file means no nameservers.
type File struct {
	Path string
}

func System() File { return File{Path: DefaultResolvConf} }

func (f File) Nameservers() ([]string, error) {
	path := f.Path
	if path == "" {
		path = DefaultResolvConf
	}
	cfg, err := dns.ClientConfigFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg.Servers, nil
}
