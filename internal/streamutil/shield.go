package streamutil

import "context"

// Shield runs fn under a context that is never cancelled by the caller's
// context, so cleanup (final journal writes, Scheduler unregister, order
// cancellation) always runs to completion even if the caller's ctx was
// cancelled — the "NonCancellable" sections called out throughout spec §5/§7.
// The caller's deadline/values are not propagated; fn gets context.Background.
func Shield(fn func(ctx context.Context) error) error {
	return fn(context.Background())
}
