package util

import (
	"context"
	"fmt"
	"net"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	dns "github.com/multiformats/go-multiaddr-dns"
)

var (
	// ResolveTimeout bounds the DNS resolution of listen addresses.
	ResolveTimeout = time.Second * 5
)

// TCPAddrFromMultiAddr converts a multiaddress to a host:port tcp address.
// dns4 and dns6 components are resolved first.
func TCPAddrFromMultiAddr(maddr ma.Multiaddr) (string, error) {
	if maddr == nil {
		return "", fmt.Errorf("invalid address")
	}
	if isDNS(maddr) {
		ctx, cancel := context.WithTimeout(context.Background(), ResolveTimeout)
		defer cancel()
		resolved, err := dns.Resolve(ctx, maddr)
		if err != nil {
			return "", fmt.Errorf("resolving %s: %s", maddr, err)
		}
		if len(resolved) == 0 {
			return "", fmt.Errorf("%s resolved to no addresses", maddr)
		}
		maddr = resolved[0]
		for _, m := range resolved {
			if _, err := m.ValueForProtocol(ma.P_IP4); err == nil {
				maddr = m
				break
			}
		}
	}

	ip, err := maddr.ValueForProtocol(ma.P_IP4)
	if err != nil {
		if ip, err = maddr.ValueForProtocol(ma.P_IP6); err != nil {
			return "", fmt.Errorf("%s has no ip component", maddr)
		}
	}
	port, err := maddr.ValueForProtocol(ma.P_TCP)
	if err != nil {
		return "", fmt.Errorf("%s has no tcp component", maddr)
	}
	return net.JoinHostPort(ip, port), nil
}

// TCPAddrFromString parses s as a multiaddress and converts it with
// TCPAddrFromMultiAddr.
func TCPAddrFromString(s string) (string, error) {
	maddr, err := ma.NewMultiaddr(s)
	if err != nil {
		return "", fmt.Errorf("parsing multiaddress %q: %s", s, err)
	}
	return TCPAddrFromMultiAddr(maddr)
}

// MustParseAddr returns a parsed Multiaddr, or panics if invalid.
func MustParseAddr(str string) ma.Multiaddr {
	addr, err := ma.NewMultiaddr(str)
	if err != nil {
		panic(err)
	}
	return addr
}

func isDNS(maddr ma.Multiaddr) bool {
	for _, p := range []int{ma.P_DNS, ma.P_DNS4, ma.P_DNS6} {
		if _, err := maddr.ValueForProtocol(p); err == nil {
			return true
		}
	}
	return false
}
