// Package web embeds the browser upload collector served at "/".
package web

import (
	"embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Assets holds index.html, script.js and styles.css.
//
//go:embed index.html script.js styles.css
var Assets embed.FS

var contentTypes = map[string]string{
	"index.html": "text/html; charset=utf-8",
	"script.js":  "text/javascript; charset=utf-8",
	"styles.css": "text/css; charset=utf-8",
}

// RegisterRoutes serves the embedded collector page and its assets.
func RegisterRoutes(r gin.IRoutes) {
	r.GET("/", serve("index.html"))
	r.GET("/index.html", serve("index.html"))
	r.GET("/script.js", serve("script.js"))
	r.GET("/styles.css", serve("styles.css"))
}

func serve(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := Assets.ReadFile(name)
		if err != nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, contentTypes[name], data)
	}
}
