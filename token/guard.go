package token

import (
	"context"

	"github.com/pkg/errors"

	apperrors "github.com/argussec/go-console/internal/errors"
)

// Call is one authenticated operation. It receives the current access token
// and returns ErrTokenExpired (possibly wrapped) when the server rejects it
// as stale.
type Call func(ctx context.Context, accessToken string) error

// Do executes an authenticated call under the coordinator's protection. If
// the call reports an expired token it is suspended until the single-flight
// refresh settles and then retried exactly once with the new token. A second
// expiry on the retried call surfaces to the caller rather than re-queueing,
// so a misbehaving server cannot trap callers in a refresh loop.
func (c *Coordinator) Do(ctx context.Context, call Call) error {
	// Snapshot the generation before reading the token. The token read after
	// the snapshot is at least as new as the snapshot, so an expiry observed
	// against a generation that has since moved on is provably stale and the
	// retry can proceed without queueing another refresh.
	gen := c.Generation()

	pair, ok, err := c.store.Load()
	if err != nil {
		return errors.Wrap(err, "[Coordinator.Do] load credentials")
	}
	if !ok {
		return apperrors.ErrNoSession
	}

	err = call(ctx, pair.AccessToken)
	if err == nil || !errors.Is(err, apperrors.ErrTokenExpired) {
		return err
	}

	if err := c.waitForRefresh(ctx, gen); err != nil {
		return err
	}

	pair, ok, loadErr := c.store.Load()
	if loadErr != nil {
		return errors.Wrap(loadErr, "[Coordinator.Do] reload credentials")
	}
	if !ok {
		return apperrors.ErrSessionExpired
	}

	// One retry only. A second ErrTokenExpired propagates as-is.
	return call(ctx, pair.AccessToken)
}
