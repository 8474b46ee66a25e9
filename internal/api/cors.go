package api

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gorilla/mux"
)

// CORSConfig holds CORS configuration. An AllowOrigins entry of "*" admits
// any origin; otherwise the request origin is echoed back only when listed.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       int
}

// DefaultCORSConfig allows any origin so browser dashboards on the LAN can
// reach the control API.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Authorization", "Accept", "Last-Event-ID", "X-Request-ID"},
		MaxAge:       86400,
	}
}

type corsHeaders struct {
	origins  []string
	wildcard bool
	methods  string
	headers  string
	maxAge   string
}

func newCORSHeaders(config CORSConfig) corsHeaders {
	return corsHeaders{
		origins:  config.AllowOrigins,
		wildcard: slices.Contains(config.AllowOrigins, "*"),
		methods:  strings.Join(config.AllowMethods, ", "),
		headers:  strings.Join(config.AllowHeaders, ", "),
		maxAge:   strconv.Itoa(config.MaxAge),
	}
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" when the origin is not admitted.
func (c corsHeaders) allowOrigin(origin string) string {
	switch {
	case c.wildcard:
		return "*"
	case origin != "" && slices.Contains(c.origins, origin):
		return origin
	default:
		return ""
	}
}

func (c corsHeaders) write(set func(name, value string), origin string) {
	allowed := c.allowOrigin(origin)
	if allowed == "" {
		return
	}
	set("Access-Control-Allow-Origin", allowed)
	if !c.wildcard {
		set("Vary", "Origin")
	}
	set("Access-Control-Allow-Methods", c.methods)
	set("Access-Control-Allow-Headers", c.headers)
	set("Access-Control-Max-Age", c.maxAge)
}

// NewCORSMiddleware adds CORS headers to every huma operation.
func NewCORSMiddleware(config CORSConfig) func(huma.Context, func(huma.Context)) {
	c := newCORSHeaders(config)
	return func(ctx huma.Context, next func(huma.Context)) {
		c.write(ctx.SetHeader, ctx.Header("Origin"))
		if ctx.Method() == http.MethodOptions {
			ctx.SetStatus(http.StatusNoContent)
			return
		}
		next(ctx)
	}
}

// AddCORSHandler answers OPTIONS preflight requests on every path. Huma
// middleware only runs for registered operations.
func AddCORSHandler(router *mux.Router, config CORSConfig) {
	c := newCORSHeaders(config)
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.write(w.Header().Set, r.Header.Get("Origin"))
		w.WriteHeader(http.StatusNoContent)
	})
}
