package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/roach88/viewql/internal/auth"
	"github.com/roach88/viewql/internal/cache"
	"github.com/roach88/viewql/internal/engine"
	"github.com/roach88/viewql/internal/gqlreq"
)

// graphQLResponse is the GraphQL-over-HTTP response body.
type graphQLResponse struct {
	Data       any            `json:"data"`
	Errors     gqlerror.List  `json:"errors,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (s *Server) handleGraphQL(c *gin.Context) {
	params, err := readParams(c)
	if err != nil {
		s.fail(c, engine.Classify(&gqlreq.Error{Code: gqlreq.CodeParse, Message: err.Error()}))
		return
	}

	q, err := gqlreq.Decode(s.engine.Schema(), params)
	if err != nil {
		s.fail(c, engine.Classify(err))
		return
	}

	resp, err := s.engine.ExecuteQuery(c.Request.Context(), engine.Request{
		Type:      q.Type,
		View:      q.View,
		List:      q.List,
		Where:     q.Where,
		Selection: q.Selection,
		Limit:     q.Limit,
		Offset:    q.Offset,
		User:      s.userFrom(c),
	})
	if err != nil {
		s.fail(c, engine.Classify(err))
		return
	}

	c.JSON(http.StatusOK, graphQLResponse{
		Data: map[string]any{q.ResponseKey: resp.Data},
		Extensions: map[string]any{
			"request_id": resp.RequestID,
			"cache_hit":  resp.CacheHit,
		},
	})
}

// readParams accepts a JSON body or, for GET, query string parameters.
// Numbers in variables keep their exact text.
func readParams(c *gin.Context) (gqlreq.Params, error) {
	var p gqlreq.Params
	if c.Request.Method == http.MethodGet {
		p.Query = c.Query("query")
		p.OperationName = c.Query("operationName")
		if raw := c.Query("variables"); raw != "" {
			if err := decodeJSON(strings.NewReader(raw), &p.Variables); err != nil {
				return p, err
			}
		}
		return p, nil
	}
	err := decodeJSON(c.Request.Body, &p)
	return p, err
}

func (s *Server) fail(c *gin.Context, ee *engine.ExecutionError) {
	if ee.Kind == engine.KindUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(statusFor(ee.Kind), graphQLResponse{Errors: gqlerror.List{ee.GQLError()}})
}

// statusFor maps error kinds to HTTP status. Execution failures of a valid
// request stay 200, as GraphQL clients expect.
func statusFor(kind engine.ErrorKind) int {
	switch kind {
	case engine.KindBadRequest:
		return http.StatusBadRequest
	case engine.KindUnavailable:
		return http.StatusServiceUnavailable
	case engine.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// userFrom reads the caller identity from the configured headers.
func (s *Server) userFrom(c *gin.Context) auth.UserContext {
	h := s.headers
	u := auth.UserContext{
		UserID:      c.GetHeader(h.UserID),
		TenantID:    c.GetHeader(h.Tenant),
		Roles:       splitList(c.GetHeader(h.Roles)),
		Permissions: splitList(c.GetHeader(h.Permissions)),
	}
	if h.AttributePrefix == "" {
		return u
	}
	prefix := http.CanonicalHeaderKey(h.AttributePrefix)
	for name, values := range c.Request.Header {
		if len(values) == 0 || !strings.HasPrefix(name, prefix) || len(name) == len(prefix) {
			continue
		}
		if u.Attributes == nil {
			u.Attributes = make(map[string]any)
		}
		key := strings.ReplaceAll(strings.ToLower(name[len(prefix):]), "-", "_")
		u.Attributes[key] = values[0]
	}
	return u
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type cascadeResponse struct {
	Invalidated int    `json:"invalidated"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleCascade(c *gin.Context) {
	var body cache.CascadeMetadata
	if err := decodeJSON(c.Request.Body, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cascade body: " + err.Error()})
		return
	}

	n, err := s.engine.ApplyCascade(c.Request.Context(), body)
	resp := cascadeResponse{Invalidated: n}
	if err != nil {
		s.logger.Warn("cascade applied locally but not published", "error", err)
		resp.Error = "cascade applied locally but not published to peers"
	}
	c.JSON(http.StatusOK, resp)
}

type targetHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Pool   any    `json:"pool"`
}

func (s *Server) handleHealth(c *gin.Context) {
	results := s.engine.HealthCheck(c.Request.Context())
	status := http.StatusOK
	targets := make(map[string]targetHealth, len(results))
	for target, err := range results {
		h := targetHealth{Status: "ok"}
		if a, ok := s.engine.Adapter(target); ok {
			h.Pool = a.PoolMetrics()
		}
		if err != nil {
			h.Status = "unavailable"
			h.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
		targets[string(target)] = h
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	body := gin.H{
		"status":         overall,
		"schema_version": s.engine.Schema().Version(),
		"targets":        targets,
	}
	if ch := s.engine.Cache(); ch != nil {
		body["cache"] = ch.Stats()
	}
	c.JSON(status, body)
}
