package net

import (
	"context"
	"fmt"
	"strings"

	"github.com/lcx/tcpio/config"
	"github.com/lcx/tcpio/plugin"
)

func init() {
	plugin.RegisterPlugin(staticResolverFactory{})
	plugin.RegisterPlugin(consulResolverFactory{})
}

// FactoryName implements plugin.Plugin.
func (StaticResolver) FactoryName() string { return "static" }

// FactoryName implements plugin.Plugin.
func (*ConsulResolver) FactoryName() string { return "consul" }

type staticResolverFactory struct{}

func (staticResolverFactory) Type() plugin.Type { return plugin.Resolver }
func (staticResolverFactory) Name() string      { return "static" }

func (staticResolverFactory) Setup(map[string]any) (plugin.Plugin, error) {
	return StaticResolver{}, nil
}

func (staticResolverFactory) Destroy(plugin.Plugin, any) error          { return nil }
func (staticResolverFactory) Reload(plugin.Plugin, map[string]any) error { return nil }
func (staticResolverFactory) CanDelete(plugin.Plugin) bool               { return true }

// ConsulResolverCfg configures a consul resolver plugin instance.
type ConsulResolverCfg struct {
	Addr       string `mapstructure:"addr"`
	Service    string `mapstructure:"service"`
	ServiceTag string `mapstructure:"serviceTag"`
}

// GetName returns the configuration name for ConsulResolverCfg
func (c *ConsulResolverCfg) GetName() string { return "resolver_consul" }

// Validate validates the ConsulResolverCfg parameters
func (c *ConsulResolverCfg) Validate() error {
	if strings.Contains(c.Addr, "/") && !strings.Contains(c.Addr, "://") {
		return fmt.Errorf("addr %q must be host:port or a URL", c.Addr)
	}
	return nil
}

type consulResolverFactory struct{}

func (consulResolverFactory) Type() plugin.Type { return plugin.Resolver }
func (consulResolverFactory) Name() string      { return "consul" }

func (consulResolverFactory) Setup(v map[string]any) (plugin.Plugin, error) {
	cfg := &ConsulResolverCfg{}
	if err := config.Decode(v, cfg); err != nil {
		return nil, err
	}
	r, err := NewConsulResolver(cfg.Addr, cfg.Service)
	if err != nil {
		return nil, err
	}
	r.SetTarget(cfg.Service, cfg.ServiceTag)
	return r, nil
}

func (consulResolverFactory) Destroy(plugin.Plugin, any) error { return nil }

// Reload updates the looked up service in place. A new agent address needs a new client.
func (consulResolverFactory) Reload(p plugin.Plugin, v map[string]any) error {
	r, ok := p.(*ConsulResolver)
	if !ok {
		return fmt.Errorf("unexpected plugin %T", p)
	}
	cfg := &ConsulResolverCfg{}
	if err := config.Decode(v, cfg); err != nil {
		return err
	}
	if cfg.Addr != r.addr {
		return fmt.Errorf("consul addr changed from %q to %q", r.addr, cfg.Addr)
	}
	r.SetTarget(cfg.Service, cfg.ServiceTag)
	return nil
}

func (consulResolverFactory) CanDelete(plugin.Plugin) bool { return true }

// pluginResolver resolves through a resolver plugin instance looked up on every
// call, so hot reloads of the plugin config take effect on the next dial.
type pluginResolver struct {
	factory, instance string
}

// PluginResolver returns a Resolver backed by the resolver plugin named by ref,
// "factory" or "factory/instance".
func PluginResolver(ref string) Resolver {
	fn, pn, ok := strings.Cut(ref, "/")
	if !ok || pn == "" {
		pn = plugin.DefaultInsName
	}
	return pluginResolver{factory: fn, instance: pn}
}

func (r pluginResolver) Resolve(ctx context.Context, host string, port int) (string, error) {
	p, err := plugin.GetPlugin(string(plugin.Resolver), r.factory, r.instance)
	if err != nil {
		return "", err
	}
	res, ok := p.(Resolver)
	if !ok {
		return "", fmt.Errorf("plugin %s/%s is not a resolver", r.factory, r.instance)
	}
	return res.Resolve(ctx, host, port)
}
