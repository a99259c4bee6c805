package model

import (
	"context"
	"errors"

	"lectern/internal/keypool"
	"lectern/internal/services"
)

// Rotator pairs a generator with a credential pool. Rate-limited calls put
// the offending credential on cooldown and immediately retry on the next
// usable one; when every credential is cooling it surfaces ErrExhausted for
// the caller to escalate.
type Rotator struct {
	gen         *Generator
	keys        *keypool.Manager
	fallbackKey string
}

// NewRotator builds a rotator. fallbackKey, when set, serves principals that
// have no pool of their own.
func NewRotator(gen *Generator, keys *keypool.Manager, fallbackKey string) *Rotator {
	return &Rotator{gen: gen, keys: keys, fallbackKey: fallbackKey}
}

// Model reports the underlying generator's model name.
func (r *Rotator) Model() string { return r.gen.Model() }

// Generate calls the model with the principal's next usable credential,
// rotating on rate limits until the pool is exhausted.
func (r *Rotator) Generate(ctx context.Context, principal string, parts ...Part) (string, error) {
	for {
		cred, err := r.keys.NextUsable(principal)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) && r.fallbackKey != "" {
				return r.gen.Generate(ctx, r.fallbackKey, parts...)
			}
			return "", err
		}

		out, genErr := r.gen.Generate(ctx, cred.Key, parts...)
		if genErr == nil {
			r.keys.ReportSuccess(principal, cred.ID)
			return out, nil
		}
		if errors.Is(genErr, services.ErrRateLimited) {
			r.keys.ReportRateLimited(principal, cred.ID, services.RetryAfter(genErr))
			continue
		}
		return "", genErr
	}
}
