package duplex

import (
	"context"

	"github.com/fleetserve/servingplane/runtime/ratelimit"
	"github.com/fleetserve/servingplane/runtime/toolregistry"
)

// Principal is the identity a duplex session carries for the lifetime of
// its connection (spec §4.6 "Accept"). An unauthenticated connection
// carries the guest principal and is never rejected for it.
type Principal struct {
	UserID *string
	Role   ratelimit.Role
	Tier   ratelimit.Tier
}

// GuestPrincipal is assigned whenever a bearer token is absent or fails to
// resolve; authentication failures degrade to guest rather than closing
// the connection.
func GuestPrincipal() Principal {
	return Principal{Role: ratelimit.RoleGuest, Tier: ratelimit.TierFree}
}

// toolTier maps the rate-limit tier vocabulary onto the tool registry's,
// which is intentionally a separate type so toolregistry never imports
// ratelimit.
func (p Principal) toolTier() toolregistry.Tier {
	switch p.Tier {
	case ratelimit.TierPro:
		return toolregistry.TierPro
	case ratelimit.TierEnterprise:
		return toolregistry.TierEnterprise
	default:
		return toolregistry.TierFree
	}
}

// key returns the rate-limiter principal key: the user id when
// authenticated, otherwise a per-session guest key so distinct anonymous
// connections never share one guest's daily counter.
func (p Principal) key(sessionID string) string {
	if p.UserID != nil {
		return *p.UserID
	}
	return "guest:" + sessionID
}

// AuthResolver resolves a bearer token into a Principal. Implementations
// wrap whatever auth and user-directory contracts the deployment uses;
// returning ok=false leaves the session as guest rather than failing the
// connection.
type AuthResolver interface {
	Resolve(ctx context.Context, bearerToken string) (Principal, bool)
}

// NoopAuthResolver never resolves a token; every connection is guest. It is
// the default when no resolver is configured.
type NoopAuthResolver struct{}

func (NoopAuthResolver) Resolve(ctx context.Context, bearerToken string) (Principal, bool) {
	return Principal{}, false
}
