package config

import "github.com/dbtmcp/dbt-mcp/internal/tool"

type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Tools  ToolsConfig  `yaml:"tools" json:"tools"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Port          int        `yaml:"port" json:"port"`
	Auth          AuthConfig `yaml:"auth" json:"auth"`
	AuditSchedule string     `yaml:"auditSchedule" json:"auditSchedule"` // cron spec for drift audits; empty disables
}

type AuthConfig struct {
	Token string `yaml:"token" json:"token"`
}

// ToolsConfig selects which tools the server exposes. Allow and Deny accept
// tool names, "group:<group>" references and "*".
type ToolsConfig struct {
	Allow          []string     `yaml:"allow" json:"allow"`
	Deny           []string     `yaml:"deny" json:"deny"`
	DisabledGroups []tool.Group `yaml:"disabledGroups" json:"disabledGroups"`
}

// PolicyLayer converts the tools section into a policy layer.
func (t ToolsConfig) PolicyLayer() tool.PolicyLayer {
	return tool.PolicyLayer{
		Allow:          t.Allow,
		Deny:           t.Deny,
		DisabledGroups: t.DisabledGroups,
	}
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"` // debug | info | warn | error
}

const (
	defaultPort          = 19900
	defaultAuditSchedule = "@every 10m"
	defaultLogLevel      = "info"
)

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          defaultPort,
			AuditSchedule: defaultAuditSchedule,
		},
		Tools: ToolsConfig{
			Allow:          []string{},
			Deny:           []string{},
			DisabledGroups: []tool.Group{},
		},
		Log: LogConfig{Level: defaultLogLevel},
	}
}
