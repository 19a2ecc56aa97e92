package campaign

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{service: svc}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/v1/campaigns/:campaign_id", h.GetCampaign)
}

func (h *Handler) GetCampaign(c *gin.Context) {
	campaign, err := h.service.Get(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, campaign)
}
