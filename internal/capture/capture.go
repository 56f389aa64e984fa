// Package capture decodes a packet capture into the records the network
// report needs: per-packet addresses and sizes, and DNS answers.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/viniciushammett/go-build-inspector/internal/evidence"
)

type Packet struct {
	Src  string
	Dst  string
	Size int
}

type DNSAnswer struct {
	Name      string
	Addresses []string
}

type Capture interface {
	PacketsFrom(addr string) []Packet
	DNSResponses() []DNSAnswer
}

// Pcap is a fully decoded capture file, pcap or pcapng.
type Pcap struct {
	packets []Packet
	answers []DNSAnswer
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

func Open(path string) (*Pcap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evidence.ErrMissingEvidence, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads every packet from r. Any read error other than a clean EOF
// fails the whole capture.
func Decode(r io.Reader) (*Pcap, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evidence.ErrCaptureDecode, err)
	}

	var src packetReader
	var lt layers.LinkType
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", evidence.ErrCaptureDecode, err)
		}
		src, lt = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", evidence.ErrCaptureDecode, err)
		}
		src, lt = pr, pr.LinkType()
	}

	p := &Pcap{}
	for {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: packet %d: %v", evidence.ErrCaptureDecode, len(p.packets)+1, err)
		}
		size := ci.Length
		if size == 0 {
			size = len(data)
		}
		p.add(gopacket.NewPacket(data, lt, gopacket.DecodeOptions{Lazy: true, NoCopy: true}), size)
	}
	return p, nil
}

func (p *Pcap) add(pkt gopacket.Packet, size int) {
	var src, dst string
	switch {
	case pkt.Layer(layers.LayerTypeIPv4) != nil:
		ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		src, dst = ip.SrcIP.String(), ip.DstIP.String()
	case pkt.Layer(layers.LayerTypeIPv6) != nil:
		ip := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		src, dst = ip.SrcIP.String(), ip.DstIP.String()
	default:
		return
	}
	p.packets = append(p.packets, Packet{Src: src, Dst: dst, Size: size})

	l := pkt.Layer(layers.LayerTypeDNS)
	if l == nil {
		return
	}
	msg := l.(*layers.DNS)
	if !msg.QR || len(msg.Questions) == 0 {
		return
	}
	ans := DNSAnswer{Name: string(msg.Questions[0].Name)}
	for _, rr := range msg.Answers {
		if (rr.Type == layers.DNSTypeA || rr.Type == layers.DNSTypeAAAA) && rr.IP != nil {
			ans.Addresses = append(ans.Addresses, rr.IP.String())
		}
	}
	if len(ans.Addresses) > 0 {
		p.answers = append(p.answers, ans)
	}
}

func (p *Pcap) PacketsFrom(addr string) []Packet {
	if ip := net.ParseIP(addr); ip != nil {
		addr = ip.String()
	}
	var out []Packet
	for _, pk := range p.packets {
		if pk.Src == addr {
			out = append(out, pk)
		}
	}
	return out
}

func (p *Pcap) DNSResponses() []DNSAnswer { return p.answers }

func (p *Pcap) Len() int { return len(p.packets) }
