package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Capability is a single named permission flag held by an actor.
type Capability string

const (
	CapAdmin      Capability = "admin"
	CapManager    Capability = "manager"
	CapBuyer      Capability = "buyer"
	CapApproverA1 Capability = "approver_a1"
	CapApproverA2 Capability = "approver_a2"
	CapReceiver   Capability = "receiver"
	CapDirector   Capability = "director"
	CapCEO        Capability = "ceo"
)

// AllCapabilities lists every capability the platform understands.
func AllCapabilities() []Capability {
	return []Capability{
		CapAdmin,
		CapManager,
		CapBuyer,
		CapApproverA1,
		CapApproverA2,
		CapReceiver,
		CapDirector,
		CapCEO,
	}
}

// Actor identifies who is performing an operation. It is passed explicitly
// through every service call; services never read identity from ambient
// state.
type Actor struct {
	ID           int64
	Capabilities map[Capability]bool

	// Request metadata kept for audit purposes.
	IP        string
	UserAgent string
}

// Has reports whether the actor holds at least one of the given capabilities.
// An empty argument list means no capability is required.
func (a Actor) Has(caps ...Capability) bool {
	if len(caps) == 0 {
		return true
	}
	for _, c := range caps {
		if a.Capabilities[c] {
			return true
		}
	}
	return false
}

// NewActor builds an actor with the given capabilities set.
func NewActor(id int64, caps ...Capability) Actor {
	set := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return Actor{ID: id, Capabilities: set}
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor placed by ActorMiddleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// Identity headers set by the upstream gateway. Authentication itself is the
// gateway's concern; this service only consumes the resolved identity.
const (
	ActorIDHeader    = "X-Actor-Id"
	ActorRolesHeader = "X-Actor-Roles"
)

// ActorMiddleware turns gateway identity headers into an explicit Actor on
// the request context. Requests without a parsable actor id are rejected.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(ActorIDHeader), 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		actor := Actor{ID: id, Capabilities: make(map[Capability]bool)}
		known := make(map[Capability]bool, len(AllCapabilities()))
		for _, c := range AllCapabilities() {
			known[c] = true
		}
		for _, raw := range strings.Split(r.Header.Get(ActorRolesHeader), ",") {
			cap := Capability(strings.ToLower(strings.TrimSpace(raw)))
			if known[cap] {
				actor.Capabilities[cap] = true
			}
		}
		actor.IP = clientIP(r)
		actor.UserAgent = r.UserAgent()
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For.
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
