package lock

import (
	"context"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Owner (the caller identity)
// --------------------------------------------------------------------------

// Owner identifies a caller of the lock API. All locks used with the same
// Owner treat it as one holder: acquiring a lock twice with the same Owner is
// reentrant, and a lock acquired through one ILock instance can be released
// through another instance for the same name.
//
// An Owner is usually created once per goroutine (or per logical task) and
// passed with WithOwner. Sharing an Owner between goroutines that should
// exclude each other defeats the lock.
//
// Thread-safety: all methods are safe for concurrent use.
type Owner struct {
	token string
	ids   *xsync.MapOf[string, string] // lock name -> identifier
}

// NewOwner creates a new Owner with a random token
func NewOwner() *Owner {
	return &Owner{
		token: uuid.NewString(),
		ids:   xsync.NewMapOf[string, string](),
	}
}

// Token returns the caller token of the Owner
func (o *Owner) Token() string {
	return o.token
}

// Identifier returns the identifier the Owner currently uses for the lock name
func (o *Owner) Identifier(name string) (string, bool) {
	return o.ids.Load(name)
}

// Adopt makes the Owner use identifier for the lock name. This is used to
// continue a hold started elsewhere, e.g. to release from a second process a
// lock acquired by the first one.
func (o *Owner) Adopt(name, identifier string) {
	o.ids.Store(name, identifier)
}

// remember records the identifier after a successful acquisition
func (o *Owner) remember(name, identifier string) {
	o.ids.Store(name, identifier)
}

// forget drops the identifier once the hold has ended
func (o *Owner) forget(name string) {
	o.ids.Delete(name)
}

// --------------------------------------------------------------------------
// Context Helpers
// --------------------------------------------------------------------------

type ownerCtxKey struct{}

// WithOwner returns a copy of ctx carrying the Owner
func WithOwner(ctx context.Context, owner *Owner) context.Context {
	return context.WithValue(ctx, ownerCtxKey{}, owner)
}

// OwnerFromContext returns the Owner of ctx
func OwnerFromContext(ctx context.Context) (*Owner, bool) {
	owner, ok := ctx.Value(ownerCtxKey{}).(*Owner)
	return owner, ok && owner != nil
}

// ownerOf returns the Owner of ctx or ErrNoOwner
func ownerOf(ctx context.Context) (*Owner, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return nil, ErrNoOwner
	}
	return owner, nil
}

// newInstanceToken creates the token of a lock instance
func newInstanceToken() string {
	return uuid.NewString()
}

// formatIdentifier builds the owner identifier stored in the lock record
func formatIdentifier(name, instanceToken, callerToken string) string {
	return name + ":" + instanceToken + ":" + callerToken
}
