package transport

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/roundsend/roundsend/internal/bufpool"
	"github.com/roundsend/roundsend/internal/wire"
)

const (
	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024

	// maxDatagram covers the largest frame either wire version produces.
	maxDatagram = 12 + wire.MaxPayload

	defaultHopLimit = 64
)

// UDPConfig describes one multicast endpoint.
type UDPConfig struct {
	// Group is the multicast group address, e.g. "ff3e::1" or "239.1.2.3".
	Group string
	// Port is the UDP port the group traffic uses.
	Port int
	// Interface optionally names the network interface to join or send on.
	Interface string
	// ReadBufferBytes and WriteBufferBytes request kernel socket buffer
	// sizes; they are clamped to a sane range and best-effort.
	ReadBufferBytes  int
	WriteBufferBytes int
	// HopLimit is the multicast hop limit / TTL for sent datagrams.
	// Zero means the default of 64.
	HopLimit int
}

func (c UDPConfig) resolve() (*net.UDPAddr, *net.Interface, error) {
	ip := net.ParseIP(c.Group)
	if ip == nil {
		return nil, nil, fmt.Errorf("invalid multicast group address: %q", c.Group)
	}
	if !ip.IsMulticast() {
		return nil, nil, fmt.Errorf("address %q is not a multicast group", c.Group)
	}
	var ifi *net.Interface
	if c.Interface != "" {
		found, err := net.InterfaceByName(c.Interface)
		if err != nil {
			return nil, nil, fmt.Errorf("interface %q: %w", c.Interface, err)
		}
		ifi = found
	}
	return &net.UDPAddr{IP: ip, Port: c.Port}, ifi, nil
}

// UDPChannel is a Channel over a multicast UDP socket.
type UDPChannel struct {
	conn *net.UDPConn
	dst  *net.UDPAddr // set on the sending side
	pool *bufpool.Pool
}

// ListenMulticast joins the configured group and returns the receiving side
// of the channel.
func ListenMulticast(cfg UDPConfig) (*UDPChannel, error) {
	group, ifi, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenMulticastUDP("udp", ifi, group)
	if err != nil {
		return nil, fmt.Errorf("join group %s: %w", group, err)
	}
	if cfg.ReadBufferBytes > 0 {
		// Best effort; the kernel may cap it below the request.
		_ = conn.SetReadBuffer(clampUDPBuffer(cfg.ReadBufferBytes))
	}
	return &UDPChannel{
		conn: conn,
		pool: bufpool.New(maxDatagram),
	}, nil
}

// DialMulticast opens the sending side of the channel toward the group.
func DialMulticast(cfg UDPConfig) (*UDPChannel, error) {
	group, ifi, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	if cfg.WriteBufferBytes > 0 {
		_ = conn.SetWriteBuffer(clampUDPBuffer(cfg.WriteBufferBytes))
	}
	hops := cfg.HopLimit
	if hops <= 0 {
		hops = defaultHopLimit
	}
	if group.IP.To4() != nil {
		p := ipv4.NewPacketConn(conn)
		if ifi != nil {
			if err := p.SetMulticastInterface(ifi); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set multicast interface: %w", err)
			}
		}
		if err := p.SetMulticastTTL(hops); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast ttl: %w", err)
		}
	} else {
		p := ipv6.NewPacketConn(conn)
		if ifi != nil {
			if err := p.SetMulticastInterface(ifi); err != nil {
				conn.Close()
				return nil, fmt.Errorf("set multicast interface: %w", err)
			}
		}
		if err := p.SetMulticastHopLimit(hops); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set multicast hop limit: %w", err)
		}
	}
	return &UDPChannel{
		conn: conn,
		dst:  group,
		pool: bufpool.New(maxDatagram),
	}, nil
}

// Send transmits one datagram to the multicast group.
func (c *UDPChannel) Send(datagram []byte) error {
	if c.dst == nil {
		return fmt.Errorf("channel is receive-only")
	}
	if _, err := c.conn.WriteToUDP(datagram, c.dst); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// Receive waits up to timeout for one datagram from the group.
func (c *UDPChannel) Receive(timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	buf := c.pool.Get()
	defer c.pool.Put(buf)

	n, _, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, nil
		}
		return nil, fmt.Errorf("receive datagram: %w", err)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

// Close releases the socket.
func (c *UDPChannel) Close() error {
	return c.conn.Close()
}

func clampUDPBuffer(n int) int {
	if n < minUDPBuffer {
		return minUDPBuffer
	}
	if n > maxUDPBuffer {
		return maxUDPBuffer
	}
	return n
}

var _ Channel = (*UDPChannel)(nil)
