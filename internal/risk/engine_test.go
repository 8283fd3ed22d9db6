package risk

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"settlement-engine/internal/common/config"
	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store/memory"
)

// ==========================
// Test Helper Functions
// ==========================

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createTestEngine(t *testing.T, st *memory.Store, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(st, DefaultPolicy(), logger.NewTestLogger(t), opts...)
}

func seedCompleted(t *testing.T, st *memory.Store, accountID string, n int, at time.Time) {
	t.Helper()
	records := make([]*models.Transaction, n)
	for i := range records {
		records[i] = &models.Transaction{
			ID:            fmt.Sprintf("%s-%d-%d", accountID, at.Unix(), i),
			FromAccountID: accountID,
			ToAccountID:   "other",
			Amount:        decimal.NewFromInt(1),
			Status:        models.TransactionCompleted,
			Timestamp:     at,
		}
	}
	require.NoError(t, st.CommitSettlement(context.Background(), nil, records))
}

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	args := m.Called(ctx, id)
	acc, _ := args.Get(0).(*models.Account)
	return acc, args.Error(1)
}

func (m *mockHistory) CountCompletedSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	args := m.Called(ctx, accountID, since)
	return args.Int(0), args.Error(1)
}

// ==========================
// Factors
// ==========================

func TestEngine_AmountRisk(t *testing.T) {
	e := createTestEngine(t, memory.New())
	tests := []struct {
		amount string
		want   float64
	}{
		{"1000.01", 0.8},
		{"1000", 0.5},
		{"500.5", 0.5},
		{"500", 0.3},
		{"101", 0.3},
		{"100", 0.1},
		{"0.01", 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, e.amountRisk(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestEngine_FrequencyRisk(t *testing.T) {
	tests := []struct {
		name   string
		recent int
		stale  int
		want   float64
	}{
		{"quiet", 2, 0, 0.2},
		{"exactly five", 5, 0, 0.2},
		{"six", 6, 0, 0.5},
		{"exactly ten", 10, 0, 0.5},
		{"eleven", 11, 0, 0.8},
		{"stale history ignored", 1, 20, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			require.NoError(t, st.SaveAccount(context.Background(), &models.Account{ID: "a"}))
			seedCompleted(t, st, "a", tt.recent, fixedNow.Add(-time.Hour))
			seedCompleted(t, st, "a", tt.stale, fixedNow.Add(-25*time.Hour))

			got, err := createTestEngine(t, st).frequencyRisk(context.Background(), "a", fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_UnknownAccountIsMaxFrequency(t *testing.T) {
	e := createTestEngine(t, memory.New())
	got, err := e.Assess(context.Background(), "ghost", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Factors.Frequency)
}

// ==========================
// Assessment
// ==========================

func TestEngine_Assess(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.SaveAccount(context.Background(), &models.Account{ID: "a"}))
	e := createTestEngine(t, st)

	got, err := e.Assess(context.Background(), "a", decimal.NewFromInt(2000))
	require.NoError(t, err)
	assert.Equal(t, models.RiskFactors{Amount: 0.8, Frequency: 0.2, Pattern: 0.3}, got.Factors)
	assert.InDelta(t, 1.3/3, got.Score, 1e-9)
	assert.Equal(t, models.RecommendStandardVerification, got.Recommendation)
	assert.Equal(t, fixedNow, got.AssessedAt)
}

func TestEngine_AssessIsDeterministic(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.SaveAccount(context.Background(), &models.Account{ID: "a"}))
	seedCompleted(t, st, "a", 7, fixedNow.Add(-time.Minute))
	e := createTestEngine(t, st)

	first, err := e.Assess(context.Background(), "a", decimal.NewFromInt(600))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Assess(context.Background(), "a", decimal.NewFromInt(600))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRecommend(t *testing.T) {
	assert.Equal(t, models.RecommendAdditionalVerification, Recommend(0.71))
	assert.Equal(t, models.RecommendStandardVerification, Recommend(0.7))
	assert.Equal(t, models.RecommendStandardVerification, Recommend(0.41))
	assert.Equal(t, models.RecommendProceed, Recommend(0.4))
}

type fixedPattern float64

func (f fixedPattern) Score(context.Context, string, decimal.Decimal) (float64, error) {
	return float64(f), nil
}

func TestEngine_PluggablePattern(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.SaveAccount(context.Background(), &models.Account{ID: "a"}))
	e := createTestEngine(t, st, WithPatternDetector(fixedPattern(1.7)))

	got, err := e.Assess(context.Background(), "a", decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Factors.Pattern, "pattern scores are clamped")
	assert.Equal(t, models.RecommendAdditionalVerification, got.Recommendation)
}

func TestEngine_HistoryFailure(t *testing.T) {
	h := &mockHistory{}
	h.On("LoadAccount", mock.Anything, "a").Return(&models.Account{ID: "a"}, nil)
	h.On("CountCompletedSince", mock.Anything, "a", fixedNow.Add(-24*time.Hour)).
		Return(0, apperrors.NewStorageError("count transactions", errors.New("timeout")))

	e := NewEngine(h, DefaultPolicy(), logger.NewNoOpLogger(), WithClock(func() time.Time { return fixedNow }))
	_, err := e.Assess(context.Background(), "a", decimal.NewFromInt(10))
	assert.ErrorIs(t, err, apperrors.ErrStorageFailure)
	h.AssertExpectations(t)
}

func TestPolicyFrom(t *testing.T) {
	p := PolicyFrom(config.RiskConfig{HighAmount: 5000, FrequencyWindow: 3600000})

	assert.True(t, p.HighAmount.Equal(decimal.NewFromInt(5000)))
	assert.True(t, p.MediumAmount.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, time.Hour, p.Window)
	assert.Equal(t, 10, p.HighFrequency)
	assert.Equal(t, 0.3, p.PatternDefault)
}
