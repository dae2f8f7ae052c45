package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/reader/internal/models"
	"github.com/jonesrussell/north-cloud/reader/internal/querycache"
)

// cacheOptions reads ?fresh=true and ?keep_previous=true.
func cacheOptions(c *gin.Context) querycache.Options {
	fresh, _ := strconv.ParseBool(c.Query("fresh"))
	keep, _ := strconv.ParseBool(c.Query("keep_previous"))
	return querycache.Options{RequireFresh: fresh, KeepPreviousData: keep}
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid "+name+" parameter")
		return 0, false
	}
	return n, true
}

type pageResponse struct {
	*models.Page
	TotalPages int `json:"total_pages"`
}

func (h *Handler) listPosts(c *gin.Context) {
	page, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}

	p, err := h.catalog.Page(c.Request.Context(), page, limit, cacheOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pageResponse{Page: p, TotalPages: p.TotalPages()})
}

func (h *Handler) listSummaries(c *gin.Context) {
	items, err := h.catalog.Summaries(c.Request.Context(), cacheOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (h *Handler) getPost(c *gin.Context) {
	p, err := h.catalog.Post(c.Request.Context(), c.Param("id"), cacheOptions(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) createPost(c *gin.Context) {
	var req models.PostCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.catalog.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) updatePost(c *gin.Context) {
	var req models.PostUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.catalog.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deletePost(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
