package middleware

import (
	midsec "PPRelay/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool // 提取凭证放入上下文，不在 HTTP 层拒绝
}

func authChain(opt RouteOpt, handler gin.HandlerFunc) []gin.HandlerFunc {
	if !opt.IsAuth {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{midsec.Middleware(midsec.DefaultOptions()), handler}
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	r.GET(path, authChain(opt, handler)...)
}
