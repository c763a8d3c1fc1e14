// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config
// files, and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/codeboltai/agentswarmprotocol-sub001/internal/common/logger"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	NATS       NATSConfig           `mapstructure:"nats"`
	Logging    logger.LoggingConfig `mapstructure:"logging"`
	MCP        MCPConfig            `mapstructure:"mcp"`
	MCPGateway MCPGatewayConfig     `mapstructure:"mcpGateway"`
}

// ServerConfig holds the three peer listening endpoints.
type ServerConfig struct {
	Host        string `mapstructure:"host"`
	AgentPort   int    `mapstructure:"agentPort"`
	ClientPort  int    `mapstructure:"clientPort"`
	ServicePort int    `mapstructure:"servicePort"`
}

// NATSConfig holds the optional NATS event bus connection. An empty URL
// selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// MCPServerConfig describes one MCP tool server to register at startup.
type MCPServerConfig struct {
	ID       string                 `mapstructure:"id"`
	Name     string                 `mapstructure:"name"`
	Type     string                 `mapstructure:"type"` // node, python
	Path     string                 `mapstructure:"path"`
	Command  string                 `mapstructure:"command"`
	Args     []string               `mapstructure:"args"`
	Metadata map[string]interface{} `mapstructure:"metadata"`
}

// MCPConfig holds the MCP supervisor configuration.
type MCPConfig struct {
	Servers []MCPServerConfig `mapstructure:"servers"`
}

// MCPGatewayConfig holds the MCP gateway (SSE/HTTP) server configuration.
// Port 0 disables the gateway.
type MCPGatewayConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads configuration from defaults, an optional config file, and
// ORCHESTRATOR_* environment variables, in ascending precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.agentPort", 3000)
	v.SetDefault("server.clientPort", 3001)
	v.SetDefault("server.servicePort", 3002)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "swarm-orchestrator")
	v.SetDefault("nats.maxReconnects", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_path", "stdout")
	v.SetDefault("mcpGateway.port", 0)
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	ports := map[string]int{
		"server.agentPort":   cfg.Server.AgentPort,
		"server.clientPort":  cfg.Server.ClientPort,
		"server.servicePort": cfg.Server.ServicePort,
	}
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and 65535", name))
		}
	}
	if cfg.Server.AgentPort == cfg.Server.ClientPort ||
		cfg.Server.AgentPort == cfg.Server.ServicePort ||
		cfg.Server.ClientPort == cfg.Server.ServicePort {
		errs = append(errs, "agent, client and service ports must be distinct")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	for i, srv := range cfg.MCP.Servers {
		if srv.Name == "" {
			errs = append(errs, fmt.Sprintf("mcp.servers[%d].name is required", i))
		}
		if srv.Path == "" && srv.Command == "" {
			errs = append(errs, fmt.Sprintf("mcp.servers[%d] requires path or command", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
