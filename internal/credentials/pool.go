package credentials

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scoutline/leadharvest/internal/model"
	"github.com/scoutline/leadharvest/pkg/apify"
)

// ErrExhausted is returned when every credential for the owner is limited or
// the rotation bound is hit. Callers pause the job rather than fail it.
var ErrExhausted = eris.New("credentials: pool exhausted")

// Store is the slice of persistence the pool needs.
type Store interface {
	AcquireCredential(ctx context.Context, ownerID string) (*model.CredentialToken, error)
	MarkCredentialLimited(ctx context.Context, id, lastError string) error
}

// Pool selects credentials least-recently-used first and rotates away from
// ones the task service rate limits. maxRotations bounds how many distinct
// credentials one operation may burn through before giving up.
type Pool struct {
	store        Store
	maxRotations int
}

func NewPool(store Store, maxRotations int) *Pool {
	if maxRotations <= 0 {
		maxRotations = 1
	}
	return &Pool{store: store, maxRotations: maxRotations}
}

// Acquire returns the least recently used active credential for the owner.
func (p *Pool) Acquire(ctx context.Context, ownerID string) (*model.CredentialToken, error) {
	cred, err := p.store.AcquireCredential(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// MarkLimited records a rate-limit strike against the credential. The token
// stays in the store for the operator to revive; it just stops rotating in.
func (p *Pool) MarkLimited(ctx context.Context, cred *model.CredentialToken, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := p.store.MarkCredentialLimited(ctx, cred.ID, msg); err != nil {
		zap.L().Error("failed to mark credential limited",
			zap.String("credential_id", cred.ID),
			zap.Error(err))
		return
	}
	zap.L().Warn("credential rate limited, rotating",
		zap.String("credential_id", cred.ID),
		zap.String("cause", msg))
}

// WithToken runs fn with an acquired credential, rotating to the next one
// when the task service answers with a rate-limit-class error. Any other
// error from fn is returned as-is after the first attempt. Returns
// ErrExhausted when no active credential remains or the rotation bound is
// exceeded.
func (p *Pool) WithToken(ctx context.Context, ownerID string, fn func(cred *model.CredentialToken) error) error {
	var lastErr error
	for attempt := 0; attempt < p.maxRotations; attempt++ {
		cred, err := p.store.AcquireCredential(ctx, ownerID)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return eris.Wrap(ErrExhausted, err.Error())
		}

		err = fn(cred)
		if err == nil {
			return nil
		}
		if !apify.IsRateLimit(err) {
			return err
		}
		p.MarkLimited(ctx, cred, err)
		lastErr = err
	}
	if lastErr != nil {
		return eris.Wrap(ErrExhausted, lastErr.Error())
	}
	return ErrExhausted
}
