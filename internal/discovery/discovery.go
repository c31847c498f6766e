// Package discovery advertises a running beam server over mDNS so peers on
// the same network can find it without typing an address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_beam._tcp"

// Advertiser represents an active mDNS advertisement.
type Advertiser struct {
	server *zeroconf.Server
}

// Service describes a discovered beam endpoint.
type Service struct {
	Name string
	Path string
	IP   net.IP
	Port int
	URL  string
}

// Advertise publishes the server over mDNS.
// path is the websocket path including the leading slash.
func Advertise(instance, path string, port int) (*Advertiser, error) {
	txt := []string{"path=" + path}

	srv, err := zeroconf.Register(instance, serviceType, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}
	return &Advertiser{server: srv}, nil
}

// Close stops advertising.
func (a *Advertiser) Close() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Browse discovers beam servers via mDNS, waiting up to timeout for replies.
func Browse(ctx context.Context, timeout time.Duration) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	results := []Service{}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if len(e.AddrIPv4) == 0 {
				continue
			}
			ip := e.AddrIPv4[0]
			path := attr(e, "path")
			results = append(results, Service{
				Name: e.Instance,
				Path: path,
				IP:   ip,
				Port: e.Port,
				URL:  fmt.Sprintf("ws://%s:%d%s", ip.String(), e.Port, path),
			})
		}
	}()

	err = resolver.Browse(ctx, serviceType, "local.", entries)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}

	<-ctx.Done()
	// zeroconf closes entries when Browse returns.
	<-done

	return results, nil
}

func attr(e *zeroconf.ServiceEntry, key string) string {
	prefix := key + "="
	for _, t := range e.Text {
		if len(t) >= len(prefix) && t[:len(prefix)] == prefix {
			return t[len(prefix):]
		}
	}
	return ""
}
