package templates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store/memory"
)

// ==========================
// Test Helper Functions
// ==========================

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) RandomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("tpl-%d", s.n)
}

func createTestRegistry(t *testing.T, opts ...Option) (*Registry, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewRegistry(st, &seqIDs{}, logger.NewTestLogger(t), opts...), st
}

func transferAction() []models.ActionSpec {
	return []models.ActionSpec{
		{Type: models.ActionTransfer, Params: models.Params{"from": "$from", "to": "$to", "amount": "$amount"}},
	}
}

func transferSchema() []models.ParameterSlot {
	return []models.ParameterSlot{
		{Name: "from", Type: models.ParamTypeAccount, Required: true},
		{Name: "to", Type: models.ParamTypeAccount, Required: true},
		{Name: "amount", Type: models.ParamTypeAmount, Required: true},
	}
}

// ==========================
// Register / Get
// ==========================

func TestRegistry_RegisterAndGet(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	id, err := r.Register(ctx, "PAYMENT", transferSchema(), nil, transferAction())
	require.NoError(t, err)

	tpl, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "PAYMENT", tpl.Name)
	assert.Equal(t, 1, tpl.Version)
	assert.Len(t, tpl.ParameterSchema, 3)
	assert.False(t, tpl.CreatedAt.IsZero())
}

func TestRegistry_VersionBump(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	first, err := r.Register(ctx, "PAYMENT", transferSchema(), nil, transferAction())
	require.NoError(t, err)
	second, err := r.Register(ctx, "PAYMENT", transferSchema(), nil, transferAction())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	latest, err := r.Latest(ctx, "PAYMENT")
	require.NoError(t, err)
	assert.Equal(t, second, latest.ID)
	assert.Equal(t, 2, latest.Version)

	original, err := r.Get(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 1, original.Version)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	r, _ := createTestRegistry(t)
	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRegistry_Register_Validation(t *testing.T) {
	tests := []struct {
		name    string
		tplName string
		schema  []models.ParameterSlot
		conds   []models.ConditionSpec
		actions []models.ActionSpec
	}{
		{"empty name", " ", transferSchema(), nil, transferAction()},
		{"no actions", "X", transferSchema(), nil, nil},
		{"duplicate slot", "X", append(transferSchema(), models.ParameterSlot{Name: "to"}), nil, transferAction()},
		{"unnamed slot", "X", []models.ParameterSlot{{Name: ""}}, nil, transferAction()},
		{"undeclared reference", "X", transferSchema()[:2], nil, transferAction()},
		{"condition without type", "X", transferSchema(), []models.ConditionSpec{{}}, transferAction()},
		{"action without type", "X", transferSchema(), nil, []models.ActionSpec{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := createTestRegistry(t)
			_, err := r.Register(context.Background(), tt.tplName, tt.schema, tt.conds, tt.actions)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestRegistry_TemplateIsImmutable(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()
	actions := transferAction()

	id, err := r.Register(ctx, "PAYMENT", transferSchema(), nil, actions)
	require.NoError(t, err)
	actions[0].Params["amount"] = "999"

	tpl, err := r.Get(ctx, id)
	require.NoError(t, err)
	tpl.Actions[0].Params["from"] = "tampered"

	again, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "$amount", again.Actions[0].Params["amount"])
	assert.Equal(t, "$from", again.Actions[0].Params["from"])
}

// ==========================
// Binding
// ==========================

func TestBind(t *testing.T) {
	tpl := &models.Template{
		Conditions: []models.ConditionSpec{
			{Type: models.ConditionCollateralCheck, Params: models.Params{"account": "$from", "amount": "$amount"}},
		},
		Actions: []models.ActionSpec{
			{Type: models.ActionTransfer, Params: models.Params{"from": "$from", "to": "fixed", "amount": "$amount", "note": "$"}},
		},
	}

	conds, actions, err := Bind(tpl, models.Params{"from": "acc-1", "amount": "500"})
	require.NoError(t, err)
	require.Len(t, conds, 1)
	require.Len(t, actions, 1)

	assert.Equal(t, models.ConditionPending, conds[0].Status)
	assert.Equal(t, "acc-1", conds[0].Params["account"])
	assert.Equal(t, models.ActionPending, actions[0].Status)
	assert.Equal(t, "fixed", actions[0].Params["to"])
	assert.Equal(t, "500", actions[0].Params["amount"])
	assert.Equal(t, "$", actions[0].Params["note"])

	// bound copies do not alias the template
	assert.Equal(t, "$from", tpl.Actions[0].Params["from"])
}

func TestBind_UnresolvedReference(t *testing.T) {
	tpl := &models.Template{
		Actions: []models.ActionSpec{{Type: models.ActionTransfer, Params: models.Params{"from": "$from"}}},
	}
	_, _, err := Bind(tpl, models.Params{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

// ==========================
// Standard templates
// ==========================

func TestRegistry_EnsureStandard_Idempotent(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	first, err := r.EnsureStandard(ctx)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, NameEscrow, first[0].Name)
	assert.Equal(t, NameSwap, first[1].Name)
	assert.Equal(t, NameLoan, first[2].Name)

	second, err := r.EnsureStandard(ctx)
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, 1, second[i].Version)
	}
}

func TestStandardDefinitions_ReferencesDeclared(t *testing.T) {
	for _, def := range StandardDefinitions() {
		t.Run(def.Name, func(t *testing.T) {
			tpl := &models.Template{Name: def.Name, ParameterSchema: def.Parameters, Conditions: def.Conditions, Actions: def.Actions}
			assert.NoError(t, validateTemplate(tpl))
		})
	}
}

// ==========================
// Redis cache
// ==========================

func TestRegistry_RedisCacheReadThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cache := NewRedisCache(client, time.Hour, logger.NewTestLogger(t))
	r, st := createTestRegistry(t, WithCache(cache))
	ctx := context.Background()

	id, err := r.Register(ctx, "PAYMENT", transferSchema(), nil, transferAction())
	require.NoError(t, err)
	assert.True(t, mr.Exists(cacheKeyPrefix+id))

	// the cache holds the registered template
	cached, ok := cache.Get(ctx, id)
	require.True(t, ok)
	assert.Equal(t, "PAYMENT", cached.Name)

	mr.FlushAll()
	tpl, err := r.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, tpl.ID)
	assert.True(t, mr.Exists(cacheKeyPrefix+id), "miss repopulates the cache")

	_, err = st.LoadTemplate(ctx, id)
	require.NoError(t, err)
}

func TestRedisCache_ErrorsAreMisses(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	mock.ExpectGet(cacheKeyPrefix + "tpl-1").SetErr(errors.New("connection refused"))
	_, ok := cache.Get(ctx, "tpl-1")
	assert.False(t, ok)

	mock.ExpectGet(cacheKeyPrefix + "tpl-2").RedisNil()
	_, ok = cache.Get(ctx, "tpl-2")
	assert.False(t, ok)

	mock.ExpectGet(cacheKeyPrefix + "tpl-3").SetVal("{not json")
	_, ok = cache.Get(ctx, "tpl-3")
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
