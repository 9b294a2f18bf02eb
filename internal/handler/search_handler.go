package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/semidx/semidx/internal/pkg/errcode"
	"github.com/semidx/semidx/internal/pkg/response"
	"github.com/semidx/semidx/internal/service"
)

type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type appendRequest struct {
	Texts []string `json:"texts"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	results, err := h.search.Search(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}

func (h *SearchHandler) LexicalSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	results, err := h.search.LexicalSearch(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}

func (h *SearchHandler) Append(c *gin.Context) {
	var req appendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	added, err := h.search.Append(c.Request.Context(), req.Texts)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": added})
}

func (h *SearchHandler) Resync(c *gin.Context) {
	if err := h.search.Resync(c.Request.Context()); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": h.search.Count()})
}

func (h *SearchHandler) Stats(c *gin.Context) {
	response.Success(c, gin.H{"documents": h.search.Count()})
}
