// SSDP discovery of StreamMagic renderers on the local network segment.
package ssdp

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anacrolix/log"
	"golang.org/x/net/ipv4"
)

// An interface with these flags should be valid for SSDP.
const InterfaceFlags = net.FlagUp | net.FlagMulticast

const (
	// Server header prefix identifying the StreamMagic device family.
	DefaultServerPrefix = "StreamMagic"

	// How long to collect unicast replies before giving up. There is
	// no retry: whatever arrived inside the window is the result.
	DefaultTimeout = 2 * time.Second
)

// DefaultGroup is the well-known SSDP multicast group.
var DefaultGroup = &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}

// The fixed M-SEARCH datagram. ST is pinned to upnp:rootdevice so every
// device answers once with its root description location.
var searchRequest = []byte("M-SEARCH * HTTP/1.1\r\n" +
	"HOST:239.255.255.250:1900\r\n" +
	"ST:upnp:rootdevice\r\n" +
	"MX:2\r\n" +
	"MAN:\"ssdp:discover\"\r\n" +
	"\r\n")

// Device is one qualifying M-SEARCH reply.
type Device struct {
	Addr    *net.UDPAddr
	Headers map[string]string
}

// Server returns the reply's server header.
func (d Device) Server() string { return d.Headers["server"] }

// Location returns the root description URL from the reply's location
// header.
func (d Device) Location() string { return d.Headers["location"] }

// Discovery finds StreamMagic devices via SSDP M-SEARCH. Results
// accumulate on the instance across calls. The zero value is usable.
type Discovery struct {
	// Multicast group to search. Defaults to DefaultGroup.
	Group *net.UDPAddr
	// Reply collection window. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Required prefix of the server reply header. Defaults to
	// DefaultServerPrefix.
	ServerPrefix string
	// Specific network interface to search on. Defaults to the
	// system's multicast routing choice.
	Interface *net.Interface
	Logger    log.Logger

	devices []Device
}

// Discover sends one M-SEARCH datagram and collects replies until the
// window closes. Replies whose server header lacks the configured
// prefix are dropped. If host is non-empty, only replies from that
// address qualify. Both paths de-duplicate by remote address against
// the accumulated device list. Returns the accumulated list, nil if
// nothing has qualified yet.
func (d *Discovery) Discover(host string) ([]Device, error) {
	group := d.Group
	if group == nil {
		group = DefaultGroup
	}
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	prefix := d.ServerPrefix
	if prefix == "" {
		prefix = DefaultServerPrefix
	}
	logger := d.logger()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening search socket: %w", err)
	}
	defer conn.Close()

	if group.IP.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		// MX is 2, so a TTL beyond the local segment buys nothing.
		if err := p.SetMulticastTTL(2); err != nil {
			logger.Levelf(log.Debug, "setting multicast TTL: %v", err)
		}
		if d.Interface != nil {
			if d.Interface.Flags&InterfaceFlags != InterfaceFlags {
				return nil, fmt.Errorf("interface %q is not up and multicast-capable", d.Interface.Name)
			}
			if err := p.SetMulticastInterface(d.Interface); err != nil {
				return nil, fmt.Errorf("selecting interface %q: %w", d.Interface.Name, err)
			}
		}
	}

	if _, err := conn.WriteToUDP(searchRequest, group); err != nil {
		return nil, fmt.Errorf("sending M-SEARCH: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, 65507)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			// The deadline firing is the expected end of the window.
			break
		}
		dev := Device{Addr: addr, Headers: ParseHeaders(buf[:n])}
		if !strings.HasPrefix(dev.Server(), prefix) {
			logger.Levelf(log.Debug, "ignoring reply from %s: server %q", addr, dev.Server())
			continue
		}
		if host != "" && addr.IP.String() != host {
			continue
		}
		if d.seen(addr) {
			continue
		}
		logger.Printf("found %q at %s", dev.Server(), addr)
		d.devices = append(d.devices, dev)
	}
	return d.devices, nil
}

func (d *Discovery) seen(addr *net.UDPAddr) bool {
	for _, dev := range d.devices {
		if dev.Addr.IP.Equal(addr.IP) && dev.Addr.Port == addr.Port {
			return true
		}
	}
	return false
}

func (d *Discovery) logger() log.Logger {
	if d.Logger.IsZero() {
		return log.Default.WithNames("ssdp")
	}
	return d.Logger
}

// ParseHeaders decodes an SSDP reply's HTTP-style header block. The
// status line is discarded; each following line splits on the first
// ": " into a lowercased key and its value. A line without a value
// yields an empty string (with any trailing colon stripped from the
// key).
func ParseHeaders(data []byte) map[string]string {
	headers := make(map[string]string)
	lines := strings.Split(string(data), "\r\n")
	if len(lines) < 2 {
		lines = strings.Split(string(data), "\n")
	}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			key, value = strings.TrimSuffix(strings.TrimSpace(line), ":"), ""
		}
		headers[strings.ToLower(key)] = value
	}
	return headers
}
