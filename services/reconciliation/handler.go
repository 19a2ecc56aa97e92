package reconciliation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/middleware"
	"incentive-controlplane/services/campaign"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	runner   *Runner
	reviewer *Reviewer
}

func NewHandler(runner *Runner, reviewer *Reviewer) *Handler {
	return &Handler{runner: runner, reviewer: reviewer}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/v1/campaigns/:campaign_id/reconciliations", h.Reconcile)
	r.POST("/v1/submissions/:submission_id/approve", h.Approve)
	r.POST("/v1/submissions/:submission_id/reject", h.Reject)
}

type ReconcileRequest struct {
	Rows    []Row                  `json:"rows"`
	Mapping campaign.ColumnMapping `json:"mapping"`
}

func (h *Handler) Reconcile(c *gin.Context) {
	dryRun := false
	if v := c.Query("dry_run"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			_ = c.Error(errutil.BadRequest("dry_run must be a boolean", err))
			return
		}
		dryRun = parsed
	}

	var req ReconcileRequest
	if err := decodeRows(c, &req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := c.Request.Context()
	sum, err := h.runner.Run(ctx, Request{
		CampaignID: c.Param("campaign_id"),
		Rows:       req.Rows,
		Mapping:    req.Mapping,
		DryRun:     dryRun,
		Actor:      middleware.ActorFromContext(ctx),
	})
	if err != nil {
		if sum == nil {
			_ = c.Error(err)
			return
		}
		// pre-flight rejections still report what was decided
		be := errutil.FromError(err)
		c.JSON(be.Code.HTTPStatus(), gin.H{
			"error": gin.H{
				"code":    be.Code,
				"message": be.Message,
				"details": be.Details,
			},
			"summary": sum,
		})
		return
	}

	c.JSON(http.StatusOK, sum)
}

// decodeRows keeps numeric cells as json.Number so long order numbers and decimals keep their exact text.
func decodeRows(c *gin.Context, req *ReconcileRequest) error {
	if c.Request.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	return dec.Decode(req)
}

func (h *Handler) Approve(c *gin.Context) {
	actor, ok := reviewer(c)
	if !ok {
		return
	}

	sub, err := h.reviewer.Approve(c.Request.Context(), c.Param("submission_id"), actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(c *gin.Context) {
	actor, ok := reviewer(c)
	if !ok {
		return
	}

	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	sub, err := h.reviewer.Reject(c.Request.Context(), c.Param("submission_id"), req.Reason, actor)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func reviewer(c *gin.Context) (string, bool) {
	actor := strings.TrimSpace(c.GetHeader(middleware.HeaderActorID))
	if actor == "" {
		_ = c.Error(errutil.Unauthorized("missing "+middleware.HeaderActorID+" header", nil))
		return "", false
	}
	return actor, true
}
