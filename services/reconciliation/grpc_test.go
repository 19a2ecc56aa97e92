package reconciliation

import (
	"context"
	"net"
	"testing"

	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/services/submission"
	"incentive-controlplane/services/testutil/fixture"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func (e *env) grpcConn(t *testing.T) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(errutil.UnaryServerInterceptor()))
	RegisterReconciliationServer(srv, NewGRPCServer(e.runner, e.reviewer))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestGRPCReconcileAndReview(t *testing.T) {
	e := newEnv(t, lensCampaign(2))
	e.Seller(t, "s1", "")
	a := e.Pending(t, "cmp", "s1", "r1", "100")
	b := e.Pending(t, "cmp", "s1", "r1", "101")
	conn := e.grpcConn(t)
	ctx := context.Background()

	in := mustStruct(t, map[string]any{
		"campaign_id": "cmp",
		"dry_run":     true,
		"rows": []any{
			map[string]any{"Pedido": "100", "CNPJ": fixture.StoreTaxID, "Produto": "LensX"},
		},
		"mapping": map[string]any{
			"order_number":    []any{"Pedido"},
			"organization_id": []any{"CNPJ"},
			"product":         []any{"Produto"},
		},
	})
	out := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, MethodReconcile, in, out))
	require.Equal(t, true, out.AsMap()["dry_run"])
	require.EqualValues(t, 1, out.AsMap()["approved"])
	require.EqualValues(t, 1, out.AsMap()["rejected"])
	require.Equal(t, submission.StatusPending, e.Reload(t, a.ID).Status)

	review := mustStruct(t, map[string]any{"submission_id": a.ID})
	err := conn.Invoke(ctx, MethodApproveSubmission, review, new(structpb.Struct))
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	authed := metadata.AppendToOutgoingContext(ctx, actorMetadataKey, "reviewer-1")
	out = new(structpb.Struct)
	require.NoError(t, conn.Invoke(authed, MethodApproveSubmission, review, out))
	require.Equal(t, string(submission.StatusApproved), out.AsMap()["status"])
	require.Equal(t, submission.StatusApproved, e.Reload(t, a.ID).Status)

	err = conn.Invoke(authed, MethodRejectSubmission, mustStruct(t, map[string]any{"submission_id": a.ID, "reason": "late"}), new(structpb.Struct))
	require.Equal(t, codes.AlreadyExists, status.Code(err))

	err = conn.Invoke(authed, MethodRejectSubmission, mustStruct(t, map[string]any{"submission_id": b.ID}), new(structpb.Struct))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, conn.Invoke(authed, MethodRejectSubmission, mustStruct(t, map[string]any{"submission_id": b.ID, "reason": "duplicate receipt"}), new(structpb.Struct)))
	require.Equal(t, submission.StatusRejected, e.Reload(t, b.ID).Status)
}

func TestGRPCReconcilePreflightCarriesSummary(t *testing.T) {
	e := newEnv(t, lensCampaign(1))
	e.Seller(t, "s1", "")
	e.Pending(t, "cmp", "s1", "r1", "100")
	conn := e.grpcConn(t)

	in := mustStruct(t, map[string]any{
		"campaign_id": "cmp",
		"dry_run":     true,
		"mapping":     map[string]any{"product": []any{"Produto"}},
	})
	err := conn.Invoke(context.Background(), MethodReconcile, in, new(structpb.Struct))

	st := status.Convert(err)
	require.Equal(t, codes.FailedPrecondition, st.Code())
	require.Len(t, st.Details(), 1)

	sum, ok := st.Details()[0].(*structpb.Struct)
	require.True(t, ok)
	require.EqualValues(t, 1, sum.AsMap()["rejected"])
}

func TestGRPCReconcileRequiresCampaign(t *testing.T) {
	e := newEnv(t, lensCampaign(1))
	conn := e.grpcConn(t)

	err := conn.Invoke(context.Background(), MethodReconcile, mustStruct(t, map[string]any{}), new(structpb.Struct))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
