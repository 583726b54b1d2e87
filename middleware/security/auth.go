package security

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// CtxCredentialKey is where Middleware leaves the bearer credential.
const CtxCredentialKey = "credential"

type Options struct {
	QueryToken                string // query parameter to read first; "" disables
	HeaderToken               string // plain header carrying the raw token; "" disables
	EnableAuthorizationBearer bool   // also accept "Authorization: Bearer <token>"
}

func DefaultOptions() *Options {
	return &Options{
		QueryToken:                "token",
		HeaderToken:               "X-Auth-Token",
		EnableAuthorizationBearer: true,
	}
}

// Extract pulls the credential from the request: query parameter first (browsers
// cannot set headers on a WebSocket upgrade), then the plain header, then the
// bearer header. It returns "" when none is present.
func Extract(c *gin.Context, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.QueryToken != "" {
		if t := strings.TrimSpace(c.Query(opts.QueryToken)); t != "" {
			return t
		}
	}
	if opts.HeaderToken != "" {
		if t := strings.TrimSpace(c.GetHeader(opts.HeaderToken)); t != "" {
			return t
		}
	}
	if opts.EnableAuthorizationBearer {
		authz := strings.TrimSpace(c.GetHeader("Authorization"))
		if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return ""
}

// Middleware stores the extracted credential in the gin context. It never
// aborts: whether a missing credential is fatal is the handler's call.
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t := Extract(c, opts); t != "" {
			c.Set(CtxCredentialKey, t)
		}
		c.Next()
	}
}

// Credential reads what Middleware stored, falling back to extracting it now.
func Credential(c *gin.Context) string {
	if v, ok := c.Get(CtxCredentialKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return Extract(c, nil)
}
