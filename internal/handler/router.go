package handler

import (
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Search *SearchHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/search", deps.Search.Search)
	api.POST("/lexsearch", deps.Search.LexicalSearch)
	api.POST("/documents", deps.Search.Append)
	api.POST("/resync", deps.Search.Resync)
	api.GET("/stats", deps.Search.Stats)
}
