// Package capture turns an offline packet capture into flat per-packet
// records with ip_* and tcp_* fields
package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/metrics"
)

// DefaultProgressInterval is how many packets pass between progress logs
const DefaultProgressInterval = 1000

// Options selects the capture container and the transport to keep
type Options struct {
	// Format is "pcap" or "pcapng"
	Format string
	// Transport must be "TCP"
	Transport string

	ProgressInterval int
	Logger           *zap.Logger
	Metrics          *metrics.Collector
}

// Record is one IPv4/TCP packet
type Record struct {
	Timestamp time.Time `json:"timestamp"`

	IPVersion  uint8  `json:"ip_version"`
	IPHdrLen   uint8  `json:"ip_hdr_len"`
	IPTOS      uint8  `json:"ip_dsfield"`
	IPLen      uint16 `json:"ip_len"`
	IPID       uint16 `json:"ip_id"`
	IPFlags    string `json:"ip_flags"`
	IPFragOff  uint16 `json:"ip_frag_offset"`
	IPTTL      uint8  `json:"ip_ttl"`
	IPProto    uint8  `json:"ip_proto"`
	IPChecksum uint16 `json:"ip_checksum"`
	IPSrc      string `json:"ip_src"`
	IPDst      string `json:"ip_dst"`

	TCPSrcPort  uint16 `json:"tcp_srcport"`
	TCPDstPort  uint16 `json:"tcp_dstport"`
	TCPLen      int    `json:"tcp_len"`
	TCPSeq      uint32 `json:"tcp_seq"`
	TCPAck      uint32 `json:"tcp_ack"`
	TCPHdrLen   uint8  `json:"tcp_hdr_len"`
	TCPFlags    string `json:"tcp_flags"`
	TCPWindow   uint16 `json:"tcp_window_size"`
	TCPChecksum uint16 `json:"tcp_checksum"`
	TCPUrgent   uint16 `json:"tcp_urgent_pointer"`
}

// Columns names the CSV columns, matching Values
func Columns() []string {
	return []string{
		"timestamp",
		"ip_version", "ip_hdr_len", "ip_dsfield", "ip_len", "ip_id", "ip_flags", "ip_frag_offset",
		"ip_ttl", "ip_proto", "ip_checksum", "ip_src", "ip_dst",
		"tcp_srcport", "tcp_dstport", "tcp_len", "tcp_seq", "tcp_ack", "tcp_hdr_len",
		"tcp_flags", "tcp_window_size", "tcp_checksum", "tcp_urgent_pointer",
	}
}

// Values renders the record in Columns order
func (r Record) Values() []string {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return []string{
		r.Timestamp.Format(time.RFC3339Nano),
		u(uint64(r.IPVersion)), u(uint64(r.IPHdrLen)), u(uint64(r.IPTOS)), u(uint64(r.IPLen)),
		u(uint64(r.IPID)), r.IPFlags, u(uint64(r.IPFragOff)),
		u(uint64(r.IPTTL)), u(uint64(r.IPProto)), u(uint64(r.IPChecksum)), r.IPSrc, r.IPDst,
		u(uint64(r.TCPSrcPort)), u(uint64(r.TCPDstPort)), strconv.Itoa(r.TCPLen),
		u(uint64(r.TCPSeq)), u(uint64(r.TCPAck)), u(uint64(r.TCPHdrLen)),
		r.TCPFlags, u(uint64(r.TCPWindow)), u(uint64(r.TCPChecksum)), u(uint64(r.TCPUrgent)),
	}
}

// Stats counts what an extraction saw
type Stats struct {
	Packets   int `json:"packets"`
	Extracted int `json:"extracted"`
	Ignored   int `json:"ignored"`
	Malformed int `json:"malformed"`
}

// Extractor reads one capture stream
type Extractor struct {
	opts   Options
	logger *zap.Logger
}

// NewExtractor validates the options. Unsupported formats or transports are
// reported as *logparse.ConfigurationError.
func NewExtractor(opts Options) (*Extractor, error) {
	opts.Format = strings.ToLower(strings.TrimSpace(opts.Format))
	if opts.Format != "pcap" && opts.Format != "pcapng" {
		return nil, &logparse.ConfigurationError{Setting: "capture format", Value: opts.Format}
	}
	if !strings.EqualFold(strings.TrimSpace(opts.Transport), "TCP") {
		return nil, &logparse.ConfigurationError{Setting: "transport protocol", Value: opts.Transport}
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{opts: opts, logger: logger}, nil
}

// ExtractFile opens path and extracts its TCP packets
func (e *Extractor) ExtractFile(ctx context.Context, path string) ([]Record, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()
	return e.Extract(ctx, f)
}

// Extract decodes every packet of r and keeps the IPv4/TCP ones
func (e *Extractor) Extract(ctx context.Context, r io.Reader) ([]Record, Stats, error) {
	var stats Stats

	source, err := e.packetSource(r)
	if err != nil {
		return nil, stats, err
	}

	e.logger.Info("starting packet processing", zap.String("format", e.opts.Format))

	records := []Record{}
	for {
		packet, err := source.NextPacket()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("failed to read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		if stats.Packets%e.opts.ProgressInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			e.logger.Info("processed packets", zap.Int("packets", stats.Packets))
		}

		rec, ok, malformed := extract(packet)
		switch {
		case malformed:
			stats.Malformed++
		case !ok:
			stats.Ignored++
		default:
			stats.Extracted++
			records = append(records, rec)
		}
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.PacketsExtracted.Add(float64(stats.Extracted))
	}
	e.logger.Info("ended packet processing",
		zap.Int("packets", stats.Packets),
		zap.Int("extracted", stats.Extracted),
		zap.Int("malformed", stats.Malformed))

	return records, stats, nil
}

func (e *Extractor) packetSource(r io.Reader) (*gopacket.PacketSource, error) {
	var (
		data     gopacket.PacketDataSource
		linkType layers.LinkType
	)

	switch e.opts.Format {
	case "pcap":
		reader, err := pcapgo.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read pcap header: %w", err)
		}
		data, linkType = reader, reader.LinkType()
	case "pcapng":
		reader, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to read pcapng header: %w", err)
		}
		data, linkType = reader, reader.LinkType()
	}

	source := gopacket.NewPacketSource(data, linkType)
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	return source, nil
}

// extract flattens an IPv4/TCP packet. ok is false for other traffic.
// malformed is set only when decoding failed at the network or transport
// layer; an undecodable application payload does not count.
func extract(packet gopacket.Packet) (rec Record, ok, malformed bool) {
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return Record{}, false, packet.NetworkLayer() == nil && packet.ErrorLayer() != nil
	}
	ip := ipLayer.(*layers.IPv4)

	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return Record{}, false, ip.Protocol == layers.IPProtocolTCP && ip.FragOffset == 0
	}
	tcp := tcpLayer.(*layers.TCP)

	rec = Record{
		Timestamp: packet.Metadata().Timestamp,

		IPVersion:  ip.Version,
		IPHdrLen:   ip.IHL * 4,
		IPTOS:      ip.TOS,
		IPLen:      ip.Length,
		IPID:       ip.Id,
		IPFlags:    ip.Flags.String(),
		IPFragOff:  ip.FragOffset,
		IPTTL:      ip.TTL,
		IPProto:    uint8(ip.Protocol),
		IPChecksum: ip.Checksum,
		IPSrc:      ip.SrcIP.String(),
		IPDst:      ip.DstIP.String(),

		TCPSrcPort:  uint16(tcp.SrcPort),
		TCPDstPort:  uint16(tcp.DstPort),
		TCPLen:      len(tcp.Payload),
		TCPSeq:      tcp.Seq,
		TCPAck:      tcp.Ack,
		TCPHdrLen:   tcp.DataOffset * 4,
		TCPFlags:    tcpFlags(tcp),
		TCPWindow:   tcp.Window,
		TCPChecksum: tcp.Checksum,
		TCPUrgent:   tcp.Urgent,
	}
	return rec, true, false
}

func tcpFlags(tcp *layers.TCP) string {
	var flags []string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{tcp.FIN, "FIN"}, {tcp.SYN, "SYN"}, {tcp.RST, "RST"}, {tcp.PSH, "PSH"},
		{tcp.ACK, "ACK"}, {tcp.URG, "URG"}, {tcp.ECE, "ECE"}, {tcp.CWR, "CWR"}, {tcp.NS, "NS"},
	} {
		if f.set {
			flags = append(flags, f.name)
		}
	}
	return strings.Join(flags, "|")
}
