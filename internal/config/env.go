package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/dbtmcp/dbt-mcp/internal/tool"
)

const disableToolsEnv = "DISABLE_TOOLS"

// DisableGroupEnv returns the environment variable that disables g,
// e.g. DISABLE_ADMIN_API.
func DisableGroupEnv(g tool.Group) string {
	return "DISABLE_" + strings.ToUpper(string(g))
}

// EnvPolicyLayer reads the DISABLE_<GROUP> booleans and the comma-separated
// DISABLE_TOOLS list. It returns nil when none of them is set. A group
// variable that is not a boolean is logged and treated as false.
func EnvPolicyLayer() *tool.PolicyLayer {
	v := viper.New()
	v.AutomaticEnv()

	var layer tool.PolicyLayer
	for _, g := range tool.Groups() {
		key := DisableGroupEnv(g)
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			continue
		}
		disabled, err := cast.ToBoolE(raw)
		if err != nil {
			slog.Warn("ignoring non-boolean environment override", "var", key, "value", raw)
			continue
		}
		if disabled {
			layer.DisabledGroups = append(layer.DisabledGroups, g)
		}
	}
	for _, name := range strings.Split(v.GetString(disableToolsEnv), ",") {
		if name = strings.TrimSpace(name); name != "" {
			layer.Deny = append(layer.Deny, name)
		}
	}

	if len(layer.DisabledGroups) == 0 && len(layer.Deny) == 0 {
		return nil
	}
	return &layer
}

// Policy builds the tool policy from cfg and the environment overrides.
func Policy(cfg *Config) (*tool.Policy, error) {
	return tool.ResolvePolicyLayers(cfg.Tools.PolicyLayer(), EnvPolicyLayer())
}
