package routes

import (
	"net/http"

	"product-importer/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the upload, progress and product endpoints. uploadLimit
// guards POST /upload and may be nil.
func RegisterRoutes(r *gin.Engine, imports *controllers.ImportController, products *controllers.ProductController, uploadLimit gin.HandlerFunc) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	upload := []gin.HandlerFunc{imports.Upload}
	if uploadLimit != nil {
		upload = append([]gin.HandlerFunc{uploadLimit}, upload...)
	}
	r.POST("/upload", upload...)
	r.GET("/sse/progress/:id", imports.StreamProgress)

	api := r.Group("/api")
	{
		api.GET("/imports/:id", imports.Status)
		api.GET("/products", products.List)
		api.GET("/products/:sku", products.Get)
		api.DELETE("/products", products.DeleteAll)
	}
}
