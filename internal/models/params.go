// internal/models/params.go
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingParam = errors.New("missing parameter")
	ErrInvalidParam = errors.New("invalid parameter")
)

// Params carries condition, action and deploy parameters. Values are the
// scalars produced by JSON decoding (string, float64, bool, json.Number) or
// their Go equivalents.
type Params map[string]interface{}

// Clone returns a shallow copy; values are scalars.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidParam, key)
	}
	return s, nil
}

// Amount reads a fixed-point amount; floats are converted through their
// shortest decimal representation.
func (p Params) Amount(key string) (decimal.Decimal, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	d, err := ParseAmount(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidParam, key, err)
	}
	return d, nil
}

func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Duration accepts a Go duration string ("720h") or a number of seconds.
func (p Params) Duration(key string) (time.Duration, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	secs, err := ParseAmount(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidParam, key, err)
	}
	return time.Duration(secs.Mul(decimal.NewFromInt(int64(time.Second))).IntPart()), nil
}

// ParseAmount converts a scalar into a decimal.
func ParseAmount(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case json.Number:
		return decimal.NewFromString(t.String())
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case int32:
		return decimal.NewFromInt32(t), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}
