package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"incentive-controlplane/pkg/celengine"
	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/featureflags"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/redis"
	"incentive-controlplane/pkg/rediskey"
	"incentive-controlplane/pkg/repository"
	"incentive-controlplane/pkg/sequence"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/notification"
	"incentive-controlplane/services/reward"
	"incentive-controlplane/services/seller"
	"incentive-controlplane/services/submission"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultLockTTL = 5 * time.Minute
	systemActor    = "reconciliation"
)

var (
	tracer = otel.Tracer("incentive-controlplane/reconciliation")

	outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_outcomes_total",
		Help: "Submissions decided by reconciliation runs.",
	}, []string{"status", "mode"})
)

type Request struct {
	CampaignID string
	Rows       []Row
	// Mapping overrides the campaign's stored mapping when not empty.
	Mapping campaign.ColumnMapping
	DryRun  bool
	Actor   string
}

type Result struct {
	SubmissionID string            `json:"submission_id"`
	SellerID     string            `json:"seller_id"`
	OrderNumber  string            `json:"order_number"`
	Status       submission.Status `json:"status"`
	Reason       string            `json:"reason,omitempty"`
	CardNumber   int               `json:"card_number,omitempty"`
	Rewarded     bool              `json:"rewarded,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type Summary struct {
	RunCode    string   `json:"run_code,omitempty"`
	CampaignID string   `json:"campaign_id"`
	DryRun     bool     `json:"dry_run"`
	Total      int      `json:"total"`
	Approved   int      `json:"approved"`
	Rejected   int      `json:"rejected"`
	Conflict   int      `json:"conflict"`
	Failed     int      `json:"failed"`
	Message    string   `json:"message"`
	Results    []Result `json:"results"`
}

func (s *Summary) add(r Result) {
	mode := "commit"
	if s.DryRun {
		mode = "dry_run"
	}

	label := string(r.Status)
	switch {
	case r.Error != "":
		s.Failed++
		label = "FAILED"
	case r.Status == submission.StatusApproved:
		s.Approved++
	case r.Status == submission.StatusRejected:
		s.Rejected++
	case r.Status == submission.StatusConflict:
		s.Conflict++
	}

	outcomes.WithLabelValues(label, mode).Inc()
	s.Results = append(s.Results, r)
}

func (s *Summary) describe() string {
	if s.DryRun {
		return fmt.Sprintf("dry run: %d submissions evaluated, %d approved, %d rejected, %d conflict",
			s.Total, s.Approved, s.Rejected, s.Conflict)
	}
	return fmt.Sprintf("%d submissions processed, %d approved, %d rejected, %d conflict, %d failed",
		s.Total, s.Approved, s.Rejected, s.Conflict, s.Failed)
}

// verdict is the evaluation outcome of one submission before anything is persisted.
type verdict struct {
	status submission.Status
	reason string
}

func reject(format string, args ...any) verdict {
	return verdict{status: submission.StatusRejected, reason: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) verdict {
	return verdict{status: submission.StatusConflict, reason: fmt.Sprintf(format, args...)}
}

type Runner struct {
	db       *gorm.DB
	node     *snowflake.Node
	seq      sequence.Generator
	locker   redis.Locker
	flags    featureflags.FeatureFlag
	lockTTL  time.Duration
	identity IdentityReconciler

	catalog       *campaign.Catalog
	directory     *seller.Directory
	submissions   *submission.Service
	trigger       *reward.Trigger
	notifications *notification.Service

	runs repository.Repository[Run]
}

type RunnerParams struct {
	fx.In

	DB            *gorm.DB
	Node          *snowflake.Node
	Seq           sequence.Generator
	Locker        redis.Locker
	Flags         featureflags.FeatureFlag
	Config        *config.Config `optional:"true"`
	Catalog       *campaign.Catalog
	Directory     *seller.Directory
	Submissions   *submission.Service
	Trigger       *reward.Trigger
	Notifications *notification.Service
}

func NewRunner(p RunnerParams) *Runner {
	r := &Runner{
		db:            p.DB,
		node:          p.Node,
		seq:           p.Seq,
		locker:        p.Locker,
		flags:         p.Flags,
		lockTTL:       defaultLockTTL,
		catalog:       p.Catalog,
		directory:     p.Directory,
		submissions:   p.Submissions,
		trigger:       p.Trigger,
		notifications: p.Notifications,
		runs:          repository.ProvideStore[Run](p.DB),
	}

	if p.Config != nil {
		if p.Config.Reconciliation.LockTTL > 0 {
			r.lockTTL = p.Config.Reconciliation.LockTTL
		}
		r.identity.Digits = p.Config.Reconciliation.OrgIDDigits
	}
	if r.flags == nil {
		r.flags = featureflags.Static{}
	}
	if r.locker == nil {
		r.locker = redis.NopLocker{}
	}
	return r
}

// Run reconciles every PENDING submission of the campaign against the spreadsheet rows.
// In dry-run mode nothing is persisted. In commit mode each submission is decided in its own
// transaction, so one failure leaves only that submission PENDING.
func (r *Runner) Run(ctx context.Context, req Request) (_ *Summary, err error) {
	ctx, span := tracer.Start(ctx, "reconciliation.Run")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("campaign.id", req.CampaignID),
		attribute.Bool("dry_run", req.DryRun),
		attribute.Int("rows", len(req.Rows)),
	)

	log := logger.FromContext(ctx).With(
		zap.String("campaign_id", req.CampaignID),
		zap.Bool("dry_run", req.DryRun),
	)

	if req.Actor == "" {
		req.Actor = systemActor
	}

	def, err := r.catalog.Load(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	if !req.DryRun {
		enabled, err := r.flags.Enabled(ctx, req.CampaignID, featureflags.ReconciliationCommit)
		if err != nil {
			return nil, errutil.ServiceUnavailable("feature flag lookup failed", err)
		}
		if !enabled {
			return nil, errutil.Forbidden("commit mode is disabled for this campaign", nil)
		}

		release, err := r.locker.Acquire(ctx, rediskey.BuildReconciliationLockKey(req.CampaignID), r.lockTTL)
		if errors.Is(err, redis.ErrLockHeld) {
			return nil, errutil.Conflict("a reconciliation is already running for this campaign", err)
		}
		if err != nil {
			return nil, errutil.ServiceUnavailable("failed to acquire reconciliation lock", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release reconciliation lock", zap.Error(err))
			}
		}()
	}

	pending, err := r.submissions.ListPending(ctx, req.CampaignID)
	if err != nil {
		log.Error("failed to list pending submissions", zap.Error(err))
		return nil, err
	}

	mapping := req.Mapping
	if len(mapping) == 0 {
		mapping = def.Campaign.Mapping()
	}

	sum := &Summary{
		CampaignID: req.CampaignID,
		DryRun:     req.DryRun,
		Total:      len(pending),
		Results:    make([]Result, 0, len(pending)),
	}

	if len(mapping.Columns(campaign.FieldOrderNumber)) == 0 {
		v := reject("configuration error: %v", ErrOrderColumnNotMapped)
		for _, sub := range pending {
			r.apply(ctx, req, sum, nil, sub, v)
		}
		sum.Message = fmt.Sprintf("reconciliation aborted, %v: %d submissions rejected", ErrOrderColumnNotMapped, sum.Rejected)
		r.record(ctx, req, sum, mapping)

		log.Warn("reconciliation rejected at pre-flight", zap.Int("pending", len(pending)))
		return sum, errutil.UnprocessableEntity(sum.Message, ErrOrderColumnNotMapped,
			errutil.WithDetails(errutil.Detail{
				Field:   "mapping." + campaign.FieldOrderNumber,
				Message: "at least one column is required",
			}),
		)
	}

	sellers, err := r.directory.GetMany(ctx, sellerIDs(pending))
	if err != nil {
		log.Error("failed to load sellers", zap.Error(err))
		return nil, err
	}

	detector := NewConflictDetector(r.submissions)
	for _, sub := range pending {
		v, err := r.evaluate(ctx, def, sub, sellers[sub.SellerID], req.Rows, mapping, detector)
		if err != nil {
			log.Error("failed to evaluate submission", zap.String("submission_id", sub.ID), zap.Error(err))
			sum.add(Result{
				SubmissionID: sub.ID,
				SellerID:     sub.SellerID,
				OrderNumber:  sub.OrderNumber,
				Status:       sub.Status,
				Error:        err.Error(),
			})
			continue
		}
		r.apply(ctx, req, sum, detector, sub, v)
	}

	sum.Message = sum.describe()
	r.record(ctx, req, sum, mapping)

	log.Info("reconciliation finished",
		zap.Int("total", sum.Total),
		zap.Int("approved", sum.Approved),
		zap.Int("rejected", sum.Rejected),
		zap.Int("conflict", sum.Conflict),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (r *Runner) evaluate(ctx context.Context, def *campaign.Definition, sub *submission.Submission, sel *seller.Seller, rows []Row, mapping campaign.ColumnMapping, detector *ConflictDetector) (verdict, error) {
	if sel == nil {
		return reject("seller %s not found", sub.SellerID), nil
	}

	req, ok := def.Requirement(sub.RequirementID)
	if !ok {
		return reject("requirement %s is not part of campaign %s", sub.RequirementID, sub.CampaignID), nil
	}

	match, err := MatchRows(sub.OrderNumber, rows, mapping)
	if err != nil {
		return reject("configuration error: %v", err), nil
	}
	switch match.Outcome {
	case MatchNotFound:
		return reject("order %s not found in spreadsheet", sub.OrderNumber), nil
	case MatchAmbiguous:
		return conflict("order %s found in more than one column: %s", sub.OrderNumber, strings.Join(match.Columns, ", ")), nil
	}
	row := match.Rows[0]

	orgID, present := row.Field(mapping, campaign.FieldOrganizationID)
	if !present {
		return reject("organization id missing from spreadsheet row of order %s", sub.OrderNumber), nil
	}
	if id := r.identity.Reconcile(orgID, sel.Identity()); !id.OK {
		return reject("%s", id.Reason), nil
	}

	ok, reason, err := EvaluateConditions(req.Conditions, row, mapping)
	if err != nil {
		return reject("configuration error: %v", err), nil
	}
	if !ok {
		return reject("%s", reason), nil
	}

	if expr := strings.TrimSpace(req.Expression); expr != "" {
		ok, err := celengine.EvaluateRow(expr, row.Strings())
		if err != nil {
			return reject("expression %q could not be evaluated: %v", expr, err), nil
		}
		if !ok {
			return reject("expression not satisfied: %s", expr), nil
		}
	}

	other, found, err := detector.Detect(ctx, r.db.WithContext(ctx), sub.OrderNumber, sub.CampaignID, sub.SellerID)
	if err != nil {
		return verdict{}, err
	}
	if found {
		return conflict("order %s already validated for seller %s", sub.OrderNumber, other), nil
	}

	return verdict{status: submission.StatusApproved}, nil
}

// apply persists v in commit mode and adds the outcome to sum. detector may be nil.
func (r *Runner) apply(ctx context.Context, req Request, sum *Summary, detector *ConflictDetector, sub *submission.Submission, v verdict) {
	res := Result{
		SubmissionID: sub.ID,
		SellerID:     sub.SellerID,
		OrderNumber:  sub.OrderNumber,
		Status:       v.status,
		Reason:       v.reason,
	}

	if !req.DryRun {
		out, err := r.commit(ctx, sub, v, req.Actor)
		if err != nil {
			logger.FromContext(ctx).Error("failed to commit submission decision",
				zap.String("submission_id", sub.ID),
				zap.String("status", string(v.status)),
				zap.Error(err),
			)
			res.Status = sub.Status
			res.Error = err.Error()
			sum.add(res)
			return
		}
		if out != nil {
			res.CardNumber = out.CardNumber
			res.Rewarded = out.Rewarded
			r.notifications.Dispatch(ctx, out.NotificationIDs)
		}
	}

	if v.status == submission.StatusApproved && detector != nil {
		detector.Hold(sub.OrderNumber, sub.SellerID)
	}
	sum.add(res)
}

func (r *Runner) commit(ctx context.Context, sub *submission.Submission, v verdict, actor string) (*reward.Outcome, error) {
	var out *reward.Outcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decided := *sub
		if err := r.submissions.Transition(ctx, tx, &decided, v.status, submission.Decision{
			Reason: v.reason,
			Actor:  actor,
		}); err != nil {
			return err
		}
		if v.status != submission.StatusApproved {
			return nil
		}

		var err error
		out, err = r.trigger.Trigger(ctx, tx, &decided)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// record stores the audit row of a commit-mode run. Failures are logged, the decisions stand.
func (r *Runner) record(ctx context.Context, req Request, sum *Summary, mapping campaign.ColumnMapping) {
	if req.DryRun {
		return
	}
	log := logger.FromContext(ctx)

	code, err := r.seq.NextRunCode(ctx, req.CampaignID)
	if err != nil {
		log.Warn("failed to issue run code", zap.Error(err))
	}

	results, err := json.Marshal(sum.Results)
	if err != nil {
		log.Warn("failed to encode run results", zap.Error(err))
		results = []byte("[]")
	}

	run := &Run{
		ID:         r.node.Generate().String(),
		Code:       code,
		CampaignID: req.CampaignID,
		Actor:      req.Actor,
		Total:      sum.Total,
		Approved:   sum.Approved,
		Rejected:   sum.Rejected,
		Conflict:   sum.Conflict,
		Failed:     sum.Failed,
		Message:    sum.Message,
		Mapping:    datatypes.NewJSONType(mapping),
		Results:    datatypes.JSON(results),
	}
	if err := r.runs.Create(ctx, run); err != nil {
		log.Error("failed to store reconciliation run", zap.Error(err))
		return
	}
	sum.RunCode = code
}

func sellerIDs(subs []*submission.Submission) []string {
	seen := make(map[string]bool, len(subs))
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		if !seen[s.SellerID] {
			seen[s.SellerID] = true
			ids = append(ids, s.SellerID)
		}
	}
	return ids
}
