package device

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// MDNSResolver resolves controller "<name>.local" addresses over multicast DNS.
// Answers are cached for ttl so the reconciler does not query every tick.
type MDNSResolver struct {
	conn *mdns.Conn
	ttl  time.Duration

	mu    sync.Mutex
	cache map[string]cachedAddr
}

type cachedAddr struct {
	ip      string
	expires time.Time
}

// NewMDNSResolver joins the mDNS multicast groups. IPv6 is optional.
func NewMDNSResolver(ttl time.Duration) (*MDNSResolver, error) {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, fmt.Errorf("resolving mDNS IPv4 address: %w", err)
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return nil, fmt.Errorf("listening on mDNS IPv4: %w", err)
	}

	var pc6 *ipv6.PacketConn
	if addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6); err == nil {
		if l6, err := net.ListenUDP("udp6", addr6); err == nil {
			pc6 = ipv6.NewPacketConn(l6)
		} else {
			log.Printf("mDNS IPv6 unavailable: %v", err)
		}
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), pc6, &mdns.Config{})
	if err != nil {
		l4.Close()
		return nil, fmt.Errorf("starting mDNS: %w", err)
	}

	return &MDNSResolver{
		conn:  conn,
		ttl:   ttl,
		cache: make(map[string]cachedAddr),
	}, nil
}

// Resolve returns the IP address advertised for host.
func (r *MDNSResolver) Resolve(ctx context.Context, host string) (string, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	r.mu.Lock()
	if c, ok := r.cache[host]; ok && time.Now().Before(c.expires) {
		r.mu.Unlock()
		return c.ip, nil
	}
	r.mu.Unlock()

	_, addr, err := r.conn.QueryAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("mDNS query: %w", err)
	}
	ip := addr.String()

	r.mu.Lock()
	r.cache[host] = cachedAddr{ip: ip, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return ip, nil
}

// Close leaves the multicast groups.
func (r *MDNSResolver) Close() error {
	return r.conn.Close()
}
