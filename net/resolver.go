package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/consul/api"
)

// Resolver turns a peer host and port into a dialable "ip:port" address.
type Resolver interface {
	Resolve(ctx context.Context, host string, port int) (string, error)
}

// StaticResolver resolves host names through DNS and prefers IPv4 results.
type StaticResolver struct {
	Resolver *net.Resolver
}

// Resolve implements Resolver.
func (r StaticResolver) Resolve(ctx context.Context, host string, port int) (string, error) {
	if port < 0 || port > 65535 {
		return "", fmt.Errorf("port %d out of range", port)
	}
	p := strconv.Itoa(port)
	if ip := net.ParseIP(host); ip != nil {
		return net.JoinHostPort(ip.String(), p), nil
	}

	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %q", host)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return net.JoinHostPort(a.IP.String(), p), nil
		}
	}
	return net.JoinHostPort(addrs[0].IP.String(), p), nil
}

// ConsulResolver picks the first healthy instance of a service registered in consul.
// When no service is set the host passed to Resolve is used as the service name.
type ConsulResolver struct {
	client *api.Client
	addr   string

	mu      sync.RWMutex
	service string
	tag     string
}

// NewConsulResolver creates a resolver talking to the consul agent at addr.
// An empty addr uses the consul defaults, including CONSUL_HTTP_ADDR.
func NewConsulResolver(addr, service string) (*ConsulResolver, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &ConsulResolver{client: client, addr: addr, service: service}, nil
}

// SetTarget changes the service and tag looked up by later calls.
func (r *ConsulResolver) SetTarget(service, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.service, r.tag = service, tag
}

// Resolve implements Resolver. The registered port wins over port unless it is zero.
func (r *ConsulResolver) Resolve(ctx context.Context, host string, port int) (string, error) {
	r.mu.RLock()
	service, tag := r.service, r.tag
	r.mu.RUnlock()
	if service == "" {
		service = host
	}
	if service == "" {
		return "", errors.New("consul: no service name")
	}

	q := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := r.client.Health().Service(service, tag, true, q)
	if err != nil {
		return "", fmt.Errorf("consul: query %s: %w", service, err)
	}
	for _, e := range entries {
		if e.Service == nil {
			continue
		}
		addr := e.Service.Address
		if addr == "" && e.Node != nil {
			addr = e.Node.Address
		}
		if addr == "" {
			continue
		}
		p := e.Service.Port
		if p == 0 {
			p = port
		}
		return net.JoinHostPort(addr, strconv.Itoa(p)), nil
	}
	return "", fmt.Errorf("consul: no passing instance of %s", service)
}
