package gateway

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dbtmcp/dbt-mcp/internal/tool"
)

const apiPrefix = "/api"

// toolView is the JSON shape of a tool in API responses.
type toolView struct {
	Name        string `json:"name"`
	Group       string `json:"group,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

type groupView struct {
	Name    tool.Group `json:"name"`
	Ref     string     `json:"ref"`
	Tools   int        `json:"tools"`
	Enabled bool       `json:"enabled"`
}

// ValidateRequest is the body of POST /api/tools/validate.
type ValidateRequest struct {
	Tools []string `json:"tools" binding:"required"`
}

// ValidateResponse reports drift between the posted tools and the enumeration.
type ValidateResponse struct {
	OK    bool       `json:"ok"`
	Drift tool.Drift `json:"drift"`
}

func newToolView(n tool.Name, description string) toolView {
	v := toolView{Name: n.String(), Description: description}
	if g, ok := n.Group(); ok {
		v.Group = string(g)
	}
	return v
}

func toolViews(tools []tool.Tool) []toolView {
	views := make([]toolView, len(tools))
	for i, t := range tools {
		views[i] = newToolView(t.Name(), t.Description())
	}
	return views
}

func (s *Server) apiAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if !s.authenticate(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func (s *Server) registerAPIRoutes(engine *gin.Engine) {
	api := engine.Group(apiPrefix, s.apiAuthMiddleware())
	api.GET("/groups", s.ginAPIGroups)
	api.GET("/tools", s.ginAPITools)
	api.GET("/tools/all", s.ginAPIAllTools)
	api.POST("/tools/validate", s.ginAPIValidate)
	api.GET("/audits", s.ginAPIAudits)
}

func (s *Server) ginAPIGroups(c *gin.Context) {
	policy := s.Policy()
	groups := tool.Groups()
	views := make([]groupView, len(groups))
	for i, g := range groups {
		members, _ := tool.ToolsInGroup(g)
		views[i] = groupView{
			Name:    g,
			Ref:     g.Ref(),
			Tools:   len(members),
			Enabled: policy.GroupEnabled(g),
		}
	}
	c.JSON(http.StatusOK, views)
}

// ginAPITools lists the served tools, optionally filtered by ?group=.
func (s *Server) ginAPITools(c *gin.Context) {
	served := s.Tools.List()
	raw := c.Query("group")
	if raw == "" {
		c.JSON(http.StatusOK, toolViews(served))
		return
	}

	group, err := tool.ParseGroup(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filtered := make([]tool.Tool, 0, len(served))
	for _, t := range served {
		if g, ok := t.Name().Group(); ok && g == group {
			filtered = append(filtered, t)
		}
	}
	c.JSON(http.StatusOK, toolViews(filtered))
}

// ginAPIAllTools lists the whole enumeration with the enabled flag.
func (s *Server) ginAPIAllTools(c *gin.Context) {
	policy := s.Policy()
	all := tool.AllNames()
	views := make([]toolView, len(all))
	for i, n := range all {
		enabled := policy.IsAllowed(n)
		views[i] = newToolView(n, "")
		views[i].Enabled = &enabled
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) ginAPIValidate(c *gin.Context) {
	var body ValidateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	drift := tool.CheckDrift(tool.AllToolNames(), body.Tools)
	c.JSON(http.StatusOK, ValidateResponse{OK: drift.Empty(), Drift: drift})
}

func (s *Server) ginAPIAudits(c *gin.Context) {
	c.JSON(http.StatusOK, s.Audits.Runs())
}
