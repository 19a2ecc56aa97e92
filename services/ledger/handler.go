package ledger

import (
	"net/http"

	"incentive-controlplane/pkg/db/pagination"
	"incentive-controlplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	ledger := r.Group("/v1/ledger")
	{
		ledger.GET("/:beneficiary_id/entries", h.ListEntries)
		ledger.GET("/:beneficiary_id/verify", h.VerifyChain)
		ledger.POST("/entries/:entry_id/paid", h.MarkPaid)
	}
}

func (h *Handler) ListEntries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	entries, info, err := h.service.List(c.Request.Context(), c.Param("beneficiary_id"), page)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      entries,
		"page_info": info,
	})
}

func (h *Handler) VerifyChain(c *gin.Context) {
	res, err := h.service.VerifyChain(c.Request.Context(), c.Param("beneficiary_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) MarkPaid(c *gin.Context) {
	entry, err := h.service.MarkPaid(c.Request.Context(), c.Param("entry_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, entry)
}
