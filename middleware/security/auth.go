package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// PPCtxTokenKey 后续 handler 统一用这个 key 读取凭证
const PPCtxTokenKey = "pp.token"

type Options struct {
	QueryParam                string // 默认 "token"；优先于请求头
	EnableAuthorizationBearer bool   // 默认 true
}

func DefaultOptions() *Options {
	return &Options{QueryParam: "token", EnableAuthorizationBearer: true}
}

// ExtractToken reads the credential from the query param first, then from
// Authorization: Bearer.
func ExtractToken(r *http.Request, opts *Options) string {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.QueryParam != "" {
		if t := strings.TrimSpace(r.URL.Query().Get(opts.QueryParam)); t != "" {
			return t
		}
	}
	if opts.EnableAuthorizationBearer {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return ""
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		// 缺失凭证也放行：WebSocket 需先升级，再以 4001 关闭
		if token := ExtractToken(c.Request, opts); token != "" {
			c.Set(PPCtxTokenKey, token)
		}
		c.Next()
	}
}

// Token returns what Middleware stored, falling back to reading the request.
func Token(c *gin.Context) string {
	if v, ok := c.Get(PPCtxTokenKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ExtractToken(c.Request, nil)
}
