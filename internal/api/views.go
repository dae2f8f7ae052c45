package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/reader/internal/chunker"
	"github.com/jonesrussell/north-cloud/reader/internal/logger"
	"github.com/jonesrussell/north-cloud/reader/internal/session"
	"github.com/jonesrussell/north-cloud/reader/internal/sse"
	"github.com/jonesrussell/north-cloud/reader/internal/view"
)

type scrollRequest struct {
	Offset  *float64  `json:"offset"`
	Offsets []float64 `json:"offsets"`
}

type pageRequest struct {
	Page int `binding:"required,min=1" json:"page"`
}

func (h *Handler) openView(c *gin.Context) {
	var opts view.Options
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if s, ok := session.FromContext(c); ok {
		opts.Session = s
	}

	v, err := h.views.Open(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, v.Snapshot())
}

func (h *Handler) lookupView(c *gin.Context) (*view.View, bool) {
	v, err := h.views.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return v, true
}

func (h *Handler) getView(c *gin.Context) {
	v, ok := h.lookupView(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, v.Snapshot())
}

// scrollView applies a burst of offsets and settles them once. Only the
// last offset determines the window.
func (h *Handler) scrollView(c *gin.Context) {
	var req scrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	offsets := req.Offsets
	if req.Offset != nil {
		offsets = append(offsets, *req.Offset)
	}
	if len(offsets) == 0 {
		badRequest(c, "offset or offsets is required")
		return
	}

	v, ok := h.lookupView(c)
	if !ok {
		return
	}
	v.Scroll(offsets...)
	v.Flush()
	c.JSON(http.StatusOK, v.Snapshot())
}

func (h *Handler) pageView(c *gin.Context) {
	var req pageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	v, ok := h.lookupView(c)
	if !ok {
		return
	}
	if err := v.LoadPage(c.Request.Context(), req.Page); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v.Snapshot())
}

// streamPost opens a post in the view and reveals it chunk by chunk as
// server-sent events.
func (h *Handler) streamPost(c *gin.Context) {
	v, ok := h.lookupView(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p, err := v.OpenPost(ctx, c.Param("postId"))
	if err != nil {
		respondError(c, err)
		return
	}

	// Headers go out with the first event so a rejected stream can still
	// answer with a JSON error.
	started := false
	begin := func() {
		if !started {
			started = true
			sse.SetHeaders(c.Writer)
			c.Status(http.StatusOK)
		}
	}

	log := logger.FromContext(ctx).With(logger.String("view_id", v.ID), logger.String("post_id", p.ID))
	err = v.Stream(ctx, func(r chunker.Reveal) {
		begin()
		ev := sse.Event{Type: sse.EventChunkReveal, ID: strconv.Itoa(r.Revealed), Data: r}
		if werr := sse.WriteEvent(c.Writer, ev); werr != nil {
			log.Debug("Chunk write failed", logger.Error(werr))
		}
	})

	switch {
	case err == nil:
		begin()
		st := v.Snapshot().Reading
		_ = sse.WriteEvent(c.Writer, sse.Event{Type: sse.EventChunkDone, Data: st})
	case ctx.Err() != nil:
		// Client went away.
	case !started:
		respondError(c, err)
	default:
		msg := err.Error()
		if errors.Is(err, chunker.ErrSuperseded) {
			msg = "another post was opened in this view"
		}
		log.Info("Chunk stream ended early", logger.Error(err))
		_ = sse.WriteEvent(c.Writer, sse.Event{Type: sse.EventChunkError, Data: gin.H{"error": msg}})
	}
}

func (h *Handler) closeView(c *gin.Context) {
	if err := h.views.Close(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
