// Package noop provides the auth.type=none authenticator. Every request
// is admitted under a shared anonymous identity, so rate limiting still
// works (one default-tier bucket) while credentials are not required.
// This is the out-of-the-box mode for local use against a dev backend.
package noop

import (
	"context"
	"net/http"

	"github.com/wandlerhq/wandler/pkg/auth"
)

// Authenticator votes Yes for every request.
type Authenticator struct{}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Result {
	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     "anonymous",
			ServiceTier: "default",
		},
	}
}
