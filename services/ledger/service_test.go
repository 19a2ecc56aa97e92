package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"incentive-controlplane/pkg/db/option"
	"incentive-controlplane/pkg/db/pagination"
	"incentive-controlplane/pkg/errutil"
	"incentive-controlplane/pkg/middleware"
	"incentive-controlplane/pkg/repository"
	"incentive-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

type repoMock[T any] struct {
	withTrxFn     func(tx *gorm.DB) repository.Repository[T]
	findFn        func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn     func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn      func(ctx context.Context, resource *T) error
	updateFn      func(ctx context.Context, resourceID string, resource any) error
	batchCreateFn func(ctx context.Context, resources []*T) error
	batchUpdateFn func(ctx context.Context, resources []*T) error
	countFn       func(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	if m.withTrxFn != nil {
		return m.withTrxFn(tx)
	}
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if m.batchCreateFn != nil {
		return m.batchCreateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	if m.batchUpdateFn != nil {
		return m.batchUpdateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) Count(ctx context.Context, query *T, opts ...option.QueryOption) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query, opts...)
	}
	return 0, nil
}

func newTestService(t *testing.T) *Service {
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node, Seq: &testutil.FakeSequence{}})
}

func chain(n int) []*Entry {
	entries := make([]*Entry, 0, n)
	prev := GenesisHash
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < n; i++ {
		e := &Entry{
			ID:            string(rune('a' + i)),
			BeneficiaryID: "s1",
			Type:          EntryTypeSeller,
			Amount:        decimal.NewFromInt(int64(100 * (i + 1))),
			PreviousHash:  prev,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		e.Hash = e.GenerateHash()
		prev = e.Hash
		entries = append(entries, e)
	}
	return entries
}

func TestVerifyChainValid(t *testing.T) {
	entries := chain(3)
	svc := &Service{
		ledger: &repoMock[Entry]{
			findFn: func(ctx context.Context, _ *Entry, opts ...option.QueryOption) ([]*Entry, error) {
				return entries, nil
			},
		},
	}

	res, err := svc.VerifyChain(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, 3, res.Entries)
}

func TestVerifyChainInvalid(t *testing.T) {
	entries := chain(3)
	entries[1].Amount = decimal.NewFromInt(1)

	svc := &Service{
		ledger: &repoMock[Entry]{
			findFn: func(ctx context.Context, _ *Entry, opts ...option.QueryOption) ([]*Entry, error) {
				return entries, nil
			},
		},
	}

	res, err := svc.VerifyChain(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, entries[1].ID, res.BrokenAt)
}

func TestHashIgnoresPaymentStatus(t *testing.T) {
	e := chain(1)[0]
	before := e.GenerateHash()

	now := time.Now()
	e.Status = EntryStatusPaid
	e.PaidAt = &now
	require.Equal(t, before, e.GenerateHash())
}

func TestAppendLinksEntriesPerBeneficiary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	var first, second, other *Entry
	err := svc.db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = svc.Append(ctx, tx, AppendParams{
			CampaignID: "cmp", BeneficiaryID: "s1", SellerID: "s1", CompletedCardID: "cc-1",
			Type: EntryTypeSeller, Amount: decimal.RequireFromString("100"),
			Metadata: map[string]any{"card_number": 1},
		})
		if err != nil {
			return err
		}
		other, err = svc.Append(ctx, tx, AppendParams{
			CampaignID: "cmp", BeneficiaryID: "m1", SellerID: "s1", CompletedCardID: "cc-1",
			Type: EntryTypeManager, Amount: decimal.RequireFromString("10.005"),
		})
		if err != nil {
			return err
		}
		second, err = svc.Append(ctx, tx, AppendParams{
			CampaignID: "cmp", BeneficiaryID: "s1", SellerID: "s1", CompletedCardID: "cc-2",
			Type: EntryTypeSeller, Amount: decimal.RequireFromString("100"),
		})
		return err
	})
	require.NoError(t, err)

	require.Equal(t, GenesisHash, first.PreviousHash)
	require.Equal(t, first.Hash, second.PreviousHash)
	require.Equal(t, GenesisHash, other.PreviousHash)
	require.Equal(t, "10.01", other.Amount.StringFixed(2))
	require.NotEmpty(t, first.Code)

	res, err := svc.VerifyChain(ctx, "s1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, 2, res.Entries)
}

func TestAppendRejectsSecondPayoutForSameCard(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	params := AppendParams{
		CampaignID: "cmp", BeneficiaryID: "s1", SellerID: "s1", CompletedCardID: "cc-1",
		Type: EntryTypeSeller, Amount: decimal.NewFromInt(100),
	}

	_, err := svc.Append(ctx, svc.db, params)
	require.NoError(t, err)

	_, err = svc.Append(ctx, svc.db, params)
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestListPaginates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	clock := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	for i := 0; i < 5; i++ {
		_, err := svc.Append(ctx, svc.db, AppendParams{
			CampaignID: "cmp", BeneficiaryID: "s1", SellerID: "s1",
			CompletedCardID: string(rune('a' + i)), Type: EntryTypeSeller, Amount: decimal.NewFromInt(100),
		})
		require.NoError(t, err)
	}

	page1, info, err := svc.List(ctx, "s1", pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.True(t, info.HasMore)

	page2, info, err := svc.List(ctx, "s1", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Equal(t, page1[1].Hash, page2[0].PreviousHash)

	page3, info, err := svc.List(ctx, "s1", pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.False(t, info.HasMore)

	_, _, err = svc.List(ctx, "s1", pagination.Pagination{Cursor: "%%%"})
	require.True(t, errutil.IsStatus(err, errutil.StatusBadRequest))
}

func TestMarkPaid(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	entry, err := svc.Append(ctx, svc.db, AppendParams{
		CampaignID: "cmp", BeneficiaryID: "s1", SellerID: "s1", CompletedCardID: "cc-1",
		Type: EntryTypeSeller, Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	paid, err := svc.MarkPaid(ctx, entry.ID)
	require.NoError(t, err)
	require.Equal(t, EntryStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	_, err = svc.MarkPaid(ctx, entry.ID)
	require.True(t, errutil.IsStatus(err, errutil.StatusConflict))

	_, err = svc.MarkPaid(ctx, "missing")
	require.True(t, errutil.IsStatus(err, errutil.StatusNotFound))

	res, err := svc.VerifyChain(ctx, "s1")
	require.NoError(t, err)
	require.True(t, res.Valid)
}

func TestHandlerRoutes(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Append(context.Background(), svc.db, AppendParams{
		CampaignID: "cmp", BeneficiaryID: "s1", SellerID: "s1", CompletedCardID: "cc-1",
		Type: EntryTypeSeller, Amount: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	r := gin.New()
	r.Use(middleware.Error())
	NewHandler(svc).RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ledger/s1/entries?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data     []Entry             `json:"data"`
		PageInfo pagination.PageInfo `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	require.False(t, body.PageInfo.HasMore)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ledger/s1/verify", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"valid":true`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/ledger/entries/"+body.Data[0].ID+"/paid", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/ledger/entries/"+body.Data[0].ID+"/paid", nil))
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAppendSharedManagerChainAcrossSellers(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	stalled := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return stalled }

	var entries []*Entry
	for i, sellerID := range []string{"s1", "s2", "s3"} {
		err := svc.db.Transaction(func(tx *gorm.DB) error {
			e, err := svc.Append(ctx, tx, AppendParams{
				CampaignID: "cmp", BeneficiaryID: "m1", SellerID: sellerID,
				CompletedCardID: "cc-" + sellerID, Type: EntryTypeManager, Amount: decimal.NewFromInt(int64(10 + i)),
			})
			entries = append(entries, e)
			return err
		})
		require.NoError(t, err)
	}

	require.Equal(t, GenesisHash, entries[0].PreviousHash)
	for i := 1; i < len(entries); i++ {
		require.Equal(t, entries[i-1].Hash, entries[i].PreviousHash)
		require.True(t, entries[i].CreatedAt.After(entries[i-1].CreatedAt))
	}

	var head Head
	require.NoError(t, svc.db.First(&head, "id = ?", "m1").Error)
	require.Equal(t, entries[2].ID, head.LastEntryID)

	res, err := svc.VerifyChain(ctx, "m1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, 3, res.Entries)
}
