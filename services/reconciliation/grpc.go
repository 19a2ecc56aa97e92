package reconciliation

import (
	"context"
	"encoding/json"
	"strings"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/middleware"
	"incentive-controlplane/services/campaign"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	grpcServiceName = "incentive.reconciliation.v1.ReconciliationService"

	MethodReconcile         = "/" + grpcServiceName + "/Reconcile"
	MethodApproveSubmission = "/" + grpcServiceName + "/ApproveSubmission"
	MethodRejectSubmission  = "/" + grpcServiceName + "/RejectSubmission"
)

// actorMetadataKey carries the reviewer id on gRPC calls, like X-USER-ID on HTTP.
var actorMetadataKey = strings.ToLower(middleware.HeaderActorID)

// ReconciliationServer is the gRPC surface of the runner and the reviewer. Messages are
// google.protobuf.Struct shaped like the HTTP JSON bodies. Struct numbers are doubles, so
// callers send order numbers and decimal cells as strings.
type ReconciliationServer interface {
	Reconcile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveSubmission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectSubmission(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type GRPCServer struct {
	runner   *Runner
	reviewer *Reviewer
}

func NewGRPCServer(runner *Runner, reviewer *Reviewer) *GRPCServer {
	return &GRPCServer{runner: runner, reviewer: reviewer}
}

func RegisterReconciliationServer(s grpc.ServiceRegistrar, srv ReconciliationServer) {
	s.RegisterService(&reconciliationServiceDesc, srv)
}

type grpcReconcileRequest struct {
	CampaignID string                 `json:"campaign_id"`
	DryRun     bool                   `json:"dry_run"`
	Rows       []Row                  `json:"rows"`
	Mapping    campaign.ColumnMapping `json:"mapping"`
}

type grpcReviewRequest struct {
	SubmissionID string `json:"submission_id"`
	Reason       string `json:"reason"`
}

func (s *GRPCServer) Reconcile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req grpcReconcileRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, errutil.BadRequest("invalid request", err)
	}
	if req.CampaignID == "" {
		return nil, errutil.BadRequest("campaign_id is required", nil)
	}

	actor, _ := actorFromMetadata(ctx)
	sum, err := s.runner.Run(ctx, Request{
		CampaignID: req.CampaignID,
		Rows:       req.Rows,
		Mapping:    req.Mapping,
		DryRun:     req.DryRun,
		Actor:      actor,
	})
	if err != nil {
		if sum == nil {
			return nil, err
		}
		return nil, withSummary(err, sum)
	}
	return toStruct(sum)
}

func (s *GRPCServer) ApproveSubmission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, ok := actorFromMetadata(ctx)
	if !ok {
		return nil, errutil.Unauthorized("missing "+actorMetadataKey+" metadata", nil)
	}

	var req grpcReviewRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, errutil.BadRequest("invalid request", err)
	}

	sub, err := s.reviewer.Approve(ctx, req.SubmissionID, actor)
	if err != nil {
		return nil, err
	}
	return toStruct(sub)
}

func (s *GRPCServer) RejectSubmission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, ok := actorFromMetadata(ctx)
	if !ok {
		return nil, errutil.Unauthorized("missing "+actorMetadataKey+" metadata", nil)
	}

	var req grpcReviewRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, errutil.BadRequest("invalid request", err)
	}

	sub, err := s.reviewer.Reject(ctx, req.SubmissionID, req.Reason, actor)
	if err != nil {
		return nil, err
	}
	return toStruct(sub)
}

func actorFromMetadata(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get(actorMetadataKey) {
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

// withSummary turns a pre-flight failure into a status carrying the summary as a detail.
func withSummary(err error, sum *Summary) error {
	st := status.Convert(errutil.ToGRPCError(err))
	detail, convErr := toStruct(sum)
	if convErr != nil {
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		return withDetail.Err()
	}
	return st.Err()
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(in *structpb.Struct, out any) error {
	b, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func unaryHandler(method string, call func(ReconciliationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReconciliationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReconciliationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var reconciliationServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*ReconciliationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Reconcile",
			Handler:    unaryHandler(MethodReconcile, ReconciliationServer.Reconcile),
		},
		{
			MethodName: "ApproveSubmission",
			Handler:    unaryHandler(MethodApproveSubmission, ReconciliationServer.ApproveSubmission),
		},
		{
			MethodName: "RejectSubmission",
			Handler:    unaryHandler(MethodRejectSubmission, ReconciliationServer.RejectSubmission),
		},
	},
}
