// Package templates is the Template Registry: immutable, versioned contract
// blueprints.
package templates

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/models"
	"settlement-engine/internal/store"
)

// IDGenerator is the random-id half of the sealing collaborator.
type IDGenerator interface {
	RandomID() string
}

// Cache holds templates by id. Templates never change once registered, so
// entries need no invalidation.
type Cache interface {
	Get(ctx context.Context, id string) (*models.Template, bool)
	Set(ctx context.Context, t *models.Template)
}

type Registry struct {
	store  store.TemplateStore
	cache  Cache
	ids    IDGenerator
	clock  func() time.Time
	logger logger.Logger

	// serializes version assignment per registry
	mu sync.Mutex
}

type Option func(*Registry)

func WithCache(c Cache) Option {
	return func(r *Registry) { r.cache = c }
}

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) { r.clock = clock }
}

func NewRegistry(s store.TemplateStore, ids IDGenerator, log logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  s,
		ids:    ids,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger.ForComponent(log, "template-registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores a new template and returns its id. Registering a name that
// already exists yields the next version of that name.
func (r *Registry) Register(ctx context.Context, name string, schema []models.ParameterSlot, conditions []models.ConditionSpec, actions []models.ActionSpec) (string, error) {
	t := &models.Template{
		Name:            strings.TrimSpace(name),
		ParameterSchema: append([]models.ParameterSlot(nil), schema...),
		Conditions:      conditions,
		Actions:         actions,
	}
	if err := validateTemplate(t); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	version := 1
	latest, err := r.store.LatestTemplateByName(ctx, t.Name)
	switch {
	case err == nil:
		version = latest.Version + 1
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return "", err
	}

	t.ID = r.ids.RandomID()
	t.Version = version
	t.CreatedAt = r.clock()
	t = t.Clone()
	if err := r.store.SaveTemplate(ctx, t); err != nil {
		return "", err
	}
	if r.cache != nil {
		r.cache.Set(ctx, t)
	}

	r.logger.Info("Template registered", map[string]interface{}{
		"templateId": t.ID,
		"name":       t.Name,
		"version":    t.Version,
	})
	return t.ID, nil
}

// Get returns the template with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*models.Template, error) {
	if r.cache != nil {
		if t, ok := r.cache.Get(ctx, id); ok {
			return t, nil
		}
	}
	t, err := r.store.LoadTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, t)
	}
	return t, nil
}

// Latest returns the highest version registered under name.
func (r *Registry) Latest(ctx context.Context, name string) (*models.Template, error) {
	return r.store.LatestTemplateByName(ctx, name)
}

func validateTemplate(t *models.Template) error {
	if t.Name == "" {
		return apperrors.NewValidationError("template name is required")
	}
	if len(t.Actions) == 0 {
		return apperrors.NewValidationError("template must declare at least one action")
	}

	slots := make(map[string]struct{}, len(t.ParameterSchema))
	for i, slot := range t.ParameterSchema {
		if strings.TrimSpace(slot.Name) == "" {
			return apperrors.NewValidationError(fmt.Sprintf("parameter slot %d has no name", i))
		}
		if _, dup := slots[slot.Name]; dup {
			return apperrors.NewValidationError(fmt.Sprintf("duplicate parameter slot %q", slot.Name))
		}
		slots[slot.Name] = struct{}{}
	}

	for i, c := range t.Conditions {
		if c.Type == "" {
			return apperrors.NewValidationError(fmt.Sprintf("condition %d has no type", i))
		}
		if err := checkReferences(c.Params, slots); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("condition %d: %v", i, err))
		}
	}
	for i, a := range t.Actions {
		if a.Type == "" {
			return apperrors.NewValidationError(fmt.Sprintf("action %d has no type", i))
		}
		if err := checkReferences(a.Params, slots); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("action %d: %v", i, err))
		}
	}
	return nil
}

func checkReferences(params models.Params, slots map[string]struct{}) error {
	for key, v := range params {
		name, ok := reference(v)
		if !ok {
			continue
		}
		if _, declared := slots[name]; !declared {
			return fmt.Errorf("parameter %q references undeclared slot %q", key, name)
		}
	}
	return nil
}
