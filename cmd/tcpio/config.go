package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lcx/tcpio/codec"
	tcpnet "github.com/lcx/tcpio/net"
	"github.com/lcx/tcpio/plugin"
)

// effectiveConfig is what the config command prints.
type effectiveConfig struct {
	Connection *tcpnet.ConnectionCfg `yaml:"tcp_connection"`
	Codecs     []string              `yaml:"codecs"`
	Plugins    map[string][]string   `yaml:"plugins,omitempty"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective connection configuration as yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConnectionCfg()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(effectiveConfig{
			Connection: cfg,
			Codecs:     codec.Names(),
			Plugins:    plugin.ListPlugins(),
		})
	},
}
