package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
)

const (
	HeaderUserID         = "X-User-ID"
	HeaderOrganizationID = "X-Organization-ID"
	HeaderRole           = "X-Role"

	identityKey = "identity"
)

var ErrUnauthenticated = errors.New("missing or invalid credentials")

// Identity is the authenticated dashboard user.
type Identity struct {
	UserID         string
	OrganizationID string
	Role           string
}

// Authenticator resolves the identity of a dashboard request.
type Authenticator interface {
	Authenticate(c fiber.Ctx) (Identity, error)
}

// HeaderAuthenticator trusts the identity headers set by the upstream gateway.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(c fiber.Ctx) (Identity, error) {
	identity := Identity{
		UserID:         c.Get(HeaderUserID),
		OrganizationID: c.Get(HeaderOrganizationID),
		Role:           c.Get(HeaderRole),
	}

	if identity.UserID == "" || identity.OrganizationID == "" {
		return Identity{}, ErrUnauthenticated
	}

	return identity, nil
}

// RequireIdentity rejects requests without a resolvable identity and stores
// it for the handlers.
func RequireIdentity(auth Authenticator) fiber.Handler {
	return func(c fiber.Ctx) error {
		identity, err := auth.Authenticate(c)
		if err != nil {
			return unauthorized(c, err.Error())
		}

		c.Locals(identityKey, identity)

		return c.Next()
	}
}

// IdentityFrom returns the identity stored by RequireIdentity.
func IdentityFrom(c fiber.Ctx) (Identity, bool) {
	identity, ok := c.Locals(identityKey).(Identity)

	return identity, ok
}
