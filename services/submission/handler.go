package submission

import (
	"net/http"
	"strings"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/v1/campaigns/:campaign_id/submissions", h.Submit)
}

type SubmitRequest struct {
	RequirementID string `json:"requirement_id" binding:"required"`
	OrderNumber   string `json:"order_number" binding:"required"`
}

// Submit creates a PENDING submission for the calling seller.
func (h *Handler) Submit(c *gin.Context) {
	sellerID := strings.TrimSpace(c.GetHeader(middleware.HeaderActorID))
	if sellerID == "" {
		_ = c.Error(errutil.Unauthorized("missing "+middleware.HeaderActorID+" header", nil))
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sub, err := h.service.Submit(c.Request.Context(), SubmitParams{
		CampaignID:    c.Param("campaign_id"),
		SellerID:      sellerID,
		RequirementID: req.RequirementID,
		OrderNumber:   req.OrderNumber,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}
