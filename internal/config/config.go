package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`

	// Overlay daemon binaries and workspace.
	CorePath     string        `mapstructure:"core_path"`
	CLIPath      string        `mapstructure:"cli_path"`
	WorkDir      string        `mapstructure:"work_dir"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`

	// Peer discovery.
	DiscoveryPort     int           `mapstructure:"discovery_port"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PeerTimeout       time.Duration `mapstructure:"peer_timeout"`

	// Collaborator surfaces.
	RelayPort int `mapstructure:"relay_port"`
	HTTPPort  int `mapstructure:"http_port"`

	// Rendezvous defaults.
	ServerNode    string `mapstructure:"server_node"`
	HostVirtualIP string `mapstructure:"host_virtual_ip"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("core_path", "easytier-core")
	v.SetDefault("cli_path", "easytier-cli")
	v.SetDefault("work_dir", ".")
	v.SetDefault("start_timeout", "30s")
	v.SetDefault("discovery_port", 47777)
	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("peer_timeout", "90s")
	v.SetDefault("relay_port", 8445)
	v.SetDefault("http_port", 8446)
	v.SetDefault("server_node", "tcp://public.easytier.top:11010")
	// First DHCP lease on the overlay; whichever node holds it runs the
	// rendezvous services.
	v.SetDefault("host_virtual_ip", "10.126.126.1")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
