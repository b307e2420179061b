package tool

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownGroup = errors.New("unknown tool group")
	ErrUnknownTool  = errors.New("unknown tool")
)

// Group is the functional category a tool belongs to. Groups are used to
// enable or disable tools as a unit.
type Group string

const (
	GroupDBTCLI        Group = "dbt_cli"
	GroupSemanticLayer Group = "semantic_layer"
	GroupDiscovery     Group = "discovery"
	GroupSQL           Group = "sql"
	GroupAdminAPI      Group = "admin_api"
	GroupDBTCodegen    Group = "dbt_codegen"
)

var groups = []Group{
	GroupDBTCLI,
	GroupSemanticLayer,
	GroupDiscovery,
	GroupSQL,
	GroupAdminAPI,
	GroupDBTCodegen,
}

// groupRefPrefix marks a group reference in allow/deny lists ("group:sql").
const groupRefPrefix = "group:"

// Groups returns every group in declaration order.
func Groups() []Group {
	out := make([]Group, len(groups))
	copy(out, groups)
	return out
}

// Valid reports whether g is one of the declared groups.
func (g Group) Valid() bool {
	for _, known := range groups {
		if g == known {
			return true
		}
	}
	return false
}

func (g Group) String() string { return string(g) }

// Ref returns the allow/deny list reference for g, e.g. "group:admin_api".
func (g Group) Ref() string { return groupRefPrefix + string(g) }

// ParseGroup accepts "admin_api", "ADMIN_API" or "group:admin_api".
func ParseGroup(s string) (Group, error) {
	g := Group(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), groupRefPrefix)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownGroup, s)
	}
	return g, nil
}

// Name identifies one callable tool. The zero Name is not a tool; every
// valid Name is one of the package-level values below, each declared
// together with its group.
type Name struct {
	value   string
	group   Group
	grouped bool
}

// catalog holds every declared Name in declaration order.
var (
	catalog []Name
	byValue = make(map[string]Name)
)

func declare(value string, group Group) Name {
	if !group.Valid() {
		panic(fmt.Sprintf("tool: %q declared with unknown group %q", value, group))
	}
	return register(Name{value: value, group: group, grouped: true})
}

// declareUngrouped is the explicit escape hatch for a tool that belongs to
// no group. TestOnlyColumnLineageIsUngrouped pins the set of such tools.
func declareUngrouped(value string) Name {
	return register(Name{value: value})
}

func register(n Name) Name {
	if n.value == "" {
		panic("tool: empty tool name")
	}
	if _, dup := byValue[n.value]; dup {
		panic(fmt.Sprintf("tool: duplicate tool name %q", n.value))
	}
	byValue[n.value] = n
	catalog = append(catalog, n)
	return n
}

// dbt CLI
var (
	Build   = declare("build", GroupDBTCLI)
	Compile = declare("compile", GroupDBTCLI)
	Docs    = declare("docs", GroupDBTCLI)
	List    = declare("list", GroupDBTCLI)
	Parse   = declare("parse", GroupDBTCLI)
	Run     = declare("run", GroupDBTCLI)
	Test    = declare("test", GroupDBTCLI)
	Show    = declare("show", GroupDBTCLI)
)

// Semantic Layer
var (
	ListMetrics           = declare("list_metrics", GroupSemanticLayer)
	GetDimensions         = declare("get_dimensions", GroupSemanticLayer)
	GetEntities           = declare("get_entities", GroupSemanticLayer)
	QueryMetrics          = declare("query_metrics", GroupSemanticLayer)
	GetMetricsCompiledSQL = declare("get_metrics_compiled_sql", GroupSemanticLayer)
)

// Discovery
var (
	GetMartModels      = declare("get_mart_models", GroupDiscovery)
	GetAllModels       = declare("get_all_models", GroupDiscovery)
	GetModelDetails    = declare("get_model_details", GroupDiscovery)
	GetModelParents    = declare("get_model_parents", GroupDiscovery)
	GetModelChildren   = declare("get_model_children", GroupDiscovery)
	GetModelHealth     = declare("get_model_health", GroupDiscovery)
	GetExposures       = declare("get_exposures", GroupDiscovery)
	GetExposureDetails = declare("get_exposure_details", GroupDiscovery)
)

// SQL
var (
	TextToSQL  = declare("text_to_sql", GroupSQL)
	ExecuteSQL = declare("execute_sql", GroupSQL)
)

// Admin API
var (
	ListJobs            = declare("list_jobs", GroupAdminAPI)
	GetJobDetails       = declare("get_job_details", GroupAdminAPI)
	TriggerJobRun       = declare("trigger_job_run", GroupAdminAPI)
	ListJobsRuns        = declare("list_jobs_runs", GroupAdminAPI)
	GetJobRunDetails    = declare("get_job_run_details", GroupAdminAPI)
	CancelJobRun        = declare("cancel_job_run", GroupAdminAPI)
	RetryJobRun         = declare("retry_job_run", GroupAdminAPI)
	ListJobRunArtifacts = declare("list_job_run_artifacts", GroupAdminAPI)
	GetJobRunArtifact   = declare("get_job_run_artifact", GroupAdminAPI)
	GetJobRunError      = declare("get_job_run_error", GroupAdminAPI)
)

// dbt-codegen
var (
	GenerateSource       = declare("generate_source", GroupDBTCodegen)
	GenerateModelYAML    = declare("generate_model_yaml", GroupDBTCodegen)
	GenerateStagingModel = declare("generate_staging_model", GroupDBTCodegen)
)

// dbt LSP. Column lineage is served by the language server integration,
// which has no group of its own yet.
var GetColumnLineage = declareUngrouped("get_column_lineage")

func (n Name) String() string { return n.value }

// Group returns the group n belongs to. ok is false for ungrouped tools and
// for the zero Name.
func (n Name) Group() (g Group, ok bool) {
	return n.group, n.grouped
}

// IsZero reports whether n is the zero Name.
func (n Name) IsZero() bool { return n.value == "" }

func (n Name) MarshalText() ([]byte, error) {
	if n.IsZero() {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownTool)
	}
	return []byte(n.value), nil
}

func (n *Name) UnmarshalText(text []byte) error {
	parsed, err := ParseName(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Lookup returns the declared Name with the given string value.
func Lookup(value string) (Name, bool) {
	n, ok := byValue[value]
	return n, ok
}

// ParseName is Lookup with an error for unknown values.
func ParseName(value string) (Name, error) {
	n, ok := Lookup(strings.TrimSpace(value))
	if !ok {
		return Name{}, fmt.Errorf("%w: %q", ErrUnknownTool, value)
	}
	return n, nil
}

// AllNames returns every declared tool in declaration order.
func AllNames() []Name {
	out := make([]Name, len(catalog))
	copy(out, catalog)
	return out
}

// AllToolNames returns the string value of every declared tool. Values are
// unique; callers should not depend on the order.
func AllToolNames() []string {
	out := make([]string, len(catalog))
	for i, n := range catalog {
		out[i] = n.value
	}
	return out
}

// ToolsInGroup returns the tools that belong to g. A group without members
// yields an empty slice; a value outside the declared groups is an error.
func ToolsInGroup(g Group) ([]Name, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, g)
	}
	out := []Name{}
	for _, n := range catalog {
		if n.grouped && n.group == g {
			out = append(out, n)
		}
	}
	return out, nil
}

// Ungrouped returns the tools declared without a group.
func Ungrouped() []Name {
	var out []Name
	for _, n := range catalog {
		if !n.grouped {
			out = append(out, n)
		}
	}
	return out
}
