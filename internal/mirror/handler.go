// Package mirror serves stored works over HTTP so other novelhub instances can
// fetch from this one, and lets authorized clients trigger fetches.
package mirror

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"novelhub/internal/fetch"
	"novelhub/internal/local"
	"novelhub/internal/remote"
	"novelhub/pkg/models"
)

// Fetcher runs a fetch for one work.
type Fetcher interface {
	Run(ctx context.Context, addr models.Address, opts fetch.Options) (*fetch.Summary, error)
}

type Handler struct {
	Store   *local.Store
	Fetcher Fetcher
	// Defaults supplies retry, interval and workers for triggered fetches.
	Defaults fetch.Options
	Logger   *zap.Logger
}

func NewHandler(store *local.Store, fetcher Fetcher, defaults fetch.Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Fetcher: fetcher, Defaults: defaults, Logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	rg.GET("", h.list)                                   // GET /works
	rg.GET("/:source/:nid", h.info)                      // GET /works/:source/:nid
	rg.GET("/:source/:nid/catalog", h.catalog)           // GET /works/:source/:nid/catalog
	rg.GET("/:source/:nid/chapters/:cid", h.chapter)     // GET /works/:source/:nid/chapters/:cid
	rg.POST("/:source/:nid/fetch", auth, h.triggerFetch) // POST /works/:source/:nid/fetch
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.Store.List(c.Request.Context())
	if err != nil {
		h.Logger.Error("list works", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if items == nil {
		items = []models.WorkSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"total": len(items), "items": items})
}

func (h *Handler) info(c *gin.Context) {
	w, ok := h.open(c)
	if !ok {
		return
	}
	info, err := w.Info(c.Request.Context())
	if err != nil {
		h.fail(c, "get info", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) catalog(c *gin.Context) {
	w, ok := h.open(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cat, err := w.Catalog(ctx)
	if err != nil {
		h.fail(c, "get catalog", err)
		return
	}
	titles, err := w.Titles(ctx)
	if err != nil {
		h.fail(c, "get titles", err)
		return
	}
	if cat == nil {
		cat = models.Catalog{}
	}
	c.JSON(http.StatusOK, models.Toc{Catalog: cat, Titles: titles})
}

func (h *Handler) chapter(c *gin.Context) {
	w, ok := h.open(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	cid := c.Param("cid")

	digest, err := w.ChapDigest(ctx, cid)
	if err != nil {
		h.fail(c, "get chapter", err)
		return
	}
	etag := `"` + digest + `"`
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}

	body, err := w.GetChap(ctx, cid)
	if err != nil {
		h.fail(c, "get chapter", err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

type fetchRequest struct {
	Policy string `json:"policy"`
}

type skipResponse struct {
	ChapterID string `json:"chapter_id"`
	Title     string `json:"title,omitempty"`
	Reason    string `json:"reason"`
	Error     string `json:"error,omitempty"`
}

type fetchResponse struct {
	RunID          string         `json:"run_id"`
	Work           string         `json:"work"`
	Policy         string         `json:"policy"`
	Created        bool           `json:"created"`
	CatalogMerged  bool           `json:"catalog_merged"`
	Fetched        int            `json:"fetched"`
	SkippedFetch   int            `json:"skipped_fetch"`
	SkippedPresent int            `json:"skipped_present"`
	MergeDeclined  int            `json:"merge_declined"`
	Unchanged      int            `json:"unchanged"`
	Skips          []skipResponse `json:"skips"`
	Took           string         `json:"took"`
}

// triggerFetch runs a fetch for the addressed work and waits for it. Progress
// is visible on the event stream meanwhile. diff needs an operator at the
// merge tool, so only update and flush are accepted.
func (h *Handler) triggerFetch(c *gin.Context) {
	addr, ok := h.address(c)
	if !ok {
		return
	}

	var req fetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
	}
	policy, err := fetch.ParsePolicy(req.Policy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if policy == fetch.PolicyDiff {
		c.JSON(http.StatusBadRequest, gin.H{"error": "policy diff needs an interactive merge and cannot be triggered remotely"})
		return
	}

	opts := h.Defaults
	opts.Policy = policy
	opts.InfoOnly = false

	client := clientName(c)
	h.Logger.Info("fetch triggered", zap.String("work", addr.String()), zap.String("client", client), zap.String("policy", string(policy)))

	start := time.Now()
	sum, err := h.Fetcher.Run(c.Request.Context(), addr, opts)
	if err != nil {
		h.fetchFailed(c, err)
		return
	}

	resp := fetchResponse{
		RunID:          sum.RunID,
		Work:           sum.Work.String(),
		Policy:         string(sum.Policy),
		Created:        sum.Created,
		CatalogMerged:  sum.CatalogMerged,
		Fetched:        sum.Fetched,
		SkippedFetch:   sum.SkippedFetch,
		SkippedPresent: sum.SkippedPresent,
		MergeDeclined:  sum.MergeDeclined,
		Unchanged:      sum.Unchanged,
		Skips:          make([]skipResponse, 0, len(sum.Skips)),
		Took:           time.Since(start).Round(time.Millisecond).String(),
	}
	for _, s := range sum.Skips {
		sr := skipResponse{ChapterID: s.ChapterID, Title: s.Title, Reason: s.Reason}
		if s.Err != nil {
			sr.Error = s.Err.Error()
		}
		resp.Skips = append(resp.Skips, sr)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) fetchFailed(c *gin.Context, err error) {
	var abort *fetch.AbortError
	switch {
	case errors.Is(err, fetch.ErrConfig):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, remote.ErrRemoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, local.ErrLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "a fetch for this work is already running"})
	case errors.As(err, &abort):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "stage": abort.Stage, "reason": abort.Reason})
	default:
		h.Logger.Error("fetch", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch failed"})
	}
}

func (h *Handler) address(c *gin.Context) (models.Address, bool) {
	addr, err := models.NewAddress(c.Param("source"), c.Param("nid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return models.Address{}, false
	}
	return addr, true
}

func (h *Handler) open(c *gin.Context) (*local.Work, bool) {
	addr, ok := h.address(c)
	if !ok {
		return nil, false
	}
	w, err := h.Store.Open(c.Request.Context(), addr)
	if err != nil {
		h.fail(c, "open work", err)
		return nil, false
	}
	return w, true
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, local.ErrNotFound) || errors.Is(err, local.ErrChapMissing) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.Logger.Error(op, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}
