// Package static serves the embedded web bundle with an SPA fallback.
package static

import (
	"embed"
	"io/fs"
	"net/http"
	pathpkg "path"
	"strings"

	"github.com/gin-gonic/gin"
)

const webDir = "web"

//go:embed all:web
var webFiles embed.FS

// RegisterRoutes wires /* to the embedded bundle.
// NOTE: Gin can't combine a root catch-all (e.g. /*filepath) with other
// top-level routes like /api. Use NoRoute as an SPA fallback instead.
func RegisterRoutes(router *gin.Engine) {
	router.NoRoute(handler())
}

func handler() gin.HandlerFunc {
	webFS, err := fs.Sub(webFiles, webDir)
	if err != nil {
		return func(c *gin.Context) {
			c.String(http.StatusServiceUnavailable, "web bundle is missing")
		}
	}

	fileServer := http.FileServer(http.FS(webFS))

	return func(c *gin.Context) {
		// API and websocket paths never fall back to the SPA.
		if strings.HasPrefix(c.Request.URL.Path, "/api") || strings.HasPrefix(c.Request.URL.Path, "/ws") {
			c.Status(http.StatusNotFound)
			return
		}

		requestPath := strings.TrimPrefix(c.Request.URL.Path, "/")

		// Normalize and refuse traversal attempts.
		cleaned := pathpkg.Clean("/" + requestPath)
		if strings.HasPrefix(cleaned, "/..") {
			c.Status(http.StatusNotFound)
			return
		}
		requestPath = strings.TrimPrefix(cleaned, "/")
		if requestPath == "" {
			requestPath = "index.html"
		}

		info, err := fs.Stat(webFS, requestPath)
		if err != nil || info.IsDir() {
			// Unknown paths get index.html so client-side routes deep-link.
			requestPath = "index.html"
		}

		c.Request.URL.Path = "/" + requestPath
		fileServer.ServeHTTP(c.Writer, c.Request)
		c.Abort()
	}
}
