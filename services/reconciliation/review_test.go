package reconciliation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/middleware"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/ledger"
	"incentive-controlplane/services/reward"
	"incentive-controlplane/services/submission"
	"incentive-controlplane/services/testutil/fixture"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestReviewerApproveTriggersReward(t *testing.T) {
	e := newEnv(t, lensCampaign(1))
	e.Seller(t, "s1", "boss")
	sub := e.Pending(t, "cmp", "s1", "r1", "100")

	got, err := e.reviewer.Approve(context.Background(), sub.ID, "reviewer-1")
	require.NoError(t, err)
	require.Equal(t, submission.StatusApproved, got.Status)
	require.Equal(t, "reviewer-1", *got.DecidedBy)
	require.Equal(t, 1, *got.CardNumber)

	require.EqualValues(t, 1, e.count(t, &reward.CompletedCard{}))
	require.EqualValues(t, 2, e.count(t, &ledger.Entry{}))
	require.Equal(t, 2, e.enq.Count())

	_, err = e.reviewer.Approve(context.Background(), sub.ID, "reviewer-1")
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))
	require.ErrorIs(t, err, submission.ErrInvalidTransition)
	require.EqualValues(t, 1, e.count(t, &reward.CompletedCard{}))
}

func TestReviewerRejectThenApprove(t *testing.T) {
	e := newEnv(t, lensCampaign(2))
	e.Seller(t, "s1", "")
	sub := e.Pending(t, "cmp", "s1", "r1", "100")

	_, err := e.reviewer.Reject(context.Background(), sub.ID, "   ", "reviewer-1")
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))
	require.Equal(t, submission.StatusPending, e.Reload(t, sub.ID).Status)

	got, err := e.reviewer.Reject(context.Background(), sub.ID, "  receipt unreadable ", "reviewer-1")
	require.NoError(t, err)
	require.Equal(t, submission.StatusRejected, got.Status)
	require.Equal(t, "receipt unreadable", *got.Reason)

	_, err = e.reviewer.Reject(context.Background(), sub.ID, "again", "reviewer-1")
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))

	got, err = e.reviewer.Approve(context.Background(), sub.ID, "reviewer-2")
	require.NoError(t, err)
	require.Equal(t, submission.StatusApproved, got.Status)
	require.Nil(t, got.Reason)
	require.Zero(t, e.count(t, &reward.CompletedCard{}))

	_, err = e.reviewer.Reject(context.Background(), sub.ID, "changed my mind", "reviewer-1")
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))
}

func TestReviewerUnknownSubmission(t *testing.T) {
	e := newEnv(t, lensCampaign(1))

	_, err := e.reviewer.Approve(context.Background(), "missing", "reviewer-1")
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	_, err = e.reviewer.Reject(context.Background(), "missing", "no", "reviewer-1")
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))
}

func (e *env) router() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Actor(), middleware.Error())
	NewHandler(e.runner, e.reviewer).RegisterRoutes(r)
	return r
}

func TestHandlerReconcile(t *testing.T) {
	e := newEnv(t, lensCampaign(2))
	e.Seller(t, "s1", "")
	sub := e.Pending(t, "cmp", "s1", "r1", "100")
	r := e.router()

	body := `{"rows":[{"Pedido":100,"CNPJ":"` + fixture.StoreTaxID + `","Produto":"LensX"}],
		"mapping":{"order_number":["Pedido"],"organization_id":["CNPJ"],"product":["Produto"]}}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/campaigns/cmp/reconciliations?dry_run=true", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var sum Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	require.True(t, sum.DryRun)
	require.Equal(t, 1, sum.Approved)
	require.Equal(t, submission.StatusPending, e.Reload(t, sub.ID).Status)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/campaigns/cmp/reconciliations?dry_run=maybe", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/campaigns/cmp/reconciliations?dry_run=true",
		strings.NewReader(`{"rows":[],"mapping":{"product":["Produto"]}}`)))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var failed struct {
		Error   map[string]any `json:"error"`
		Summary Summary        `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	require.Equal(t, "UNPROCESSABLE_ENTITY", failed.Error["code"])
	require.Equal(t, 1, failed.Summary.Rejected)

	req := httptest.NewRequest(http.MethodPost, "/v1/campaigns/cmp/reconciliations", strings.NewReader(body))
	req.Header.Set(middleware.HeaderActorID, "ops")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, submission.StatusApproved, e.Reload(t, sub.ID).Status)

	var run Run
	require.NoError(t, e.DB.First(&run).Error)
	require.Equal(t, "ops", run.Actor)
}

func TestHandlerReview(t *testing.T) {
	e := newEnv(t, lensCampaign(2))
	e.Seller(t, "s1", "")
	a := e.Pending(t, "cmp", "s1", "r1", "100")
	b := e.Pending(t, "cmp", "s1", "r1", "101")
	r := e.router()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/submissions/"+a.ID+"/approve", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions/"+a.ID+"/approve", nil)
	req.Header.Set(middleware.HeaderActorID, "reviewer-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got submission.Submission
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, submission.StatusApproved, got.Status)

	req = httptest.NewRequest(http.MethodPost, "/v1/submissions/"+b.ID+"/reject", strings.NewReader(`{"reason":""}`))
	req.Header.Set(middleware.HeaderActorID, "reviewer-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/submissions/"+b.ID+"/reject", strings.NewReader(`{"reason":"duplicate receipt"}`))
	req.Header.Set(middleware.HeaderActorID, "reviewer-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, submission.StatusRejected, e.Reload(t, b.ID).Status)

	req = httptest.NewRequest(http.MethodPost, "/v1/submissions/"+a.ID+"/reject", strings.NewReader(`{"reason":"late"}`))
	req.Header.Set(middleware.HeaderActorID, "reviewer-1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestHandlerReconcileKeepsNumericCellText(t *testing.T) {
	e := newEnv(t, fixture.Campaign("cmp",
		fixture.Card(1, fixture.Requirement("r1", 1, 1, campaign.Condition{
			Field:    "price",
			Operator: campaign.OperatorEquals,
			Expected: "2.50",
		})),
	))
	e.Seller(t, "s1", "")
	sub := e.Pending(t, "cmp", "s1", "r1", "12345678901234567")

	body := `{"rows":[{"Pedido":12345678901234567,"CNPJ":"` + fixture.StoreTaxID + `","Valor":2.50}],
		"mapping":{"order_number":["Pedido"],"organization_id":["CNPJ"],"price":["Valor"]}}`

	w := httptest.NewRecorder()
	e.router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/campaigns/cmp/reconciliations?dry_run=true", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var sum Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	res := resultOf(t, &sum, sub.ID)
	require.Equal(t, submission.StatusApproved, res.Status, res.Reason)
}
