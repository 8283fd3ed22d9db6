package conditions

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "settlement-engine/internal/common/errors"
	commonhttp "settlement-engine/internal/common/http"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store/memory"
)

// ==========================
// Test Helper Functions
// ==========================

type mockSignal struct {
	mock.Mock
}

func (m *mockSignal) Approve(ctx context.Context, partyID string, params models.Params) (bool, error) {
	args := m.Called(ctx, partyID, params)
	return args.Bool(0), args.Error(1)
}

func createTestRegistry(t *testing.T, signal CreditSignal) (*Registry, *memory.Store) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.SaveAccount(context.Background(), &models.Account{ID: "collateral", Balance: decimal.NewFromInt(500)}))
	r := NewRegistry(logger.NewTestLogger(t))
	RegisterBuiltins(r, st, signal)
	return r, st
}

func collateral(account string, amount interface{}) models.Condition {
	return models.Condition{
		Type:   models.ConditionCollateralCheck,
		Params: models.Params{"account": account, "amount": amount},
		Status: models.ConditionPending,
	}
}

// ==========================
// COLLATERAL_CHECK
// ==========================

func TestCollateralCheck(t *testing.T) {
	r, _ := createTestRegistry(t, nil)

	tests := []struct {
		name string
		cond models.Condition
		want models.ConditionStatus
	}{
		{"enough", collateral("collateral", "500"), models.ConditionMet},
		{"numeric amount", collateral("collateral", 499.99), models.ConditionMet},
		{"short", collateral("collateral", "500.01"), models.ConditionFailed},
		{"unknown account", collateral("ghost", "1"), models.ConditionFailed},
		{"malformed amount", collateral("collateral", "lots"), models.ConditionFailed},
		{"missing account", models.Condition{Type: models.ConditionCollateralCheck, Params: models.Params{"amount": "1"}}, models.ConditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Evaluate(context.Background(), tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			if tt.want == models.ConditionFailed {
				assert.NotEmpty(t, out.Reason)
			}
		})
	}
}

func TestCollateralCheck_ToppedUp(t *testing.T) {
	r, st := createTestRegistry(t, nil)
	ctx := context.Background()
	cond := collateral("collateral", "800")

	for i := 0; i < 3; i++ {
		out, err := r.Evaluate(ctx, cond)
		require.NoError(t, err)
		assert.Equal(t, models.ConditionFailed, out.Status)
	}

	require.NoError(t, st.SaveAccount(ctx, &models.Account{ID: "collateral", Balance: decimal.NewFromInt(800)}))
	out, err := r.Evaluate(ctx, cond)
	require.NoError(t, err)
	assert.Equal(t, models.ConditionMet, out.Status)
}

// ==========================
// CREDIT_CHECK
// ==========================

func TestCreditCheck_DefaultApproves(t *testing.T) {
	r, _ := createTestRegistry(t, nil)
	out, err := r.Evaluate(context.Background(), models.Condition{
		Type:   models.ConditionCreditCheck,
		Params: models.Params{"party": "bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ConditionMet, out.Status)
}

func TestCreditCheck_Signal(t *testing.T) {
	signal := &mockSignal{}
	signal.On("Approve", mock.Anything, "bob", mock.Anything).Return(false, nil).Once()
	signal.On("Approve", mock.Anything, "bob", mock.Anything).Return(false, apperrors.NewExternalServiceError("credit-bureau", errors.New("503"))).Once()

	r, _ := createTestRegistry(t, signal)
	cond := models.Condition{Type: models.ConditionCreditCheck, Params: models.Params{"party": "bob"}}

	out, err := r.Evaluate(context.Background(), cond)
	require.NoError(t, err)
	assert.Equal(t, models.ConditionFailed, out.Status)

	_, err = r.Evaluate(context.Background(), cond)
	assert.True(t, errors.Is(err, &apperrors.StandardError{Code: apperrors.ErrCodeExternalService}))
	signal.AssertExpectations(t)
}

func TestHTTPCreditSignal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/credit/good":
			assert.Equal(t, "250", r.URL.Query().Get("amount"))
			_, _ = w.Write([]byte(`{"approved":true}`))
		case "/credit/bad":
			_, _ = w.Write([]byte(`{"approved":false,"reason":"score"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	signal := NewHTTPCreditSignal(commonhttp.NewClient(time.Second), server.URL+"/")
	ctx := context.Background()

	ok, err := signal.Approve(ctx, "good", models.Params{"amount": "250"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = signal.Approve(ctx, "bad", models.Params{})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = signal.Approve(ctx, "down", models.Params{})
	stdErr, isStd := apperrors.AsStandardError(err)
	require.True(t, isStd)
	assert.Equal(t, apperrors.ErrCodeExternalService, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

// ==========================
// Registry
// ==========================

func TestRegistry_UnknownTypeFailsClosed(t *testing.T) {
	r, _ := createTestRegistry(t, nil)
	out, err := r.Evaluate(context.Background(), models.Condition{Type: "ORACLE_PRICE"})
	require.NoError(t, err)
	assert.Equal(t, models.ConditionFailed, out.Status)
	assert.Contains(t, out.Reason, "UNSUPPORTED_CONDITION")
}

func TestRegistry_CustomPredicate(t *testing.T) {
	r, _ := createTestRegistry(t, nil)
	r.Register("AFTER_DATE", HandlerFunc(func(_ context.Context, params models.Params) (Outcome, error) {
		if params.Bool("reached") {
			return Met(), nil
		}
		return Failed("date not reached"), nil
	}))

	out, err := r.Evaluate(context.Background(), models.Condition{Type: "AFTER_DATE", Params: models.Params{"reached": true}})
	require.NoError(t, err)
	assert.Equal(t, models.ConditionMet, out.Status)
}
