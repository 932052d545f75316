package gateway

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cuemby/spacetimed/pkg/identity"
)

// TokenValidator turns an already-parsed bearer token into validated
// claims. Actual JWT signature verification is an external collaborator;
// the gateway only consumes the result.
type TokenValidator func(bearer string) (identity.Claims, error)

// bindIdentity resolves the connection's identity from the request's
// Authorization header, or allocates an anonymous identity if none is
// presented.
func bindIdentity(r *http.Request, validate TokenValidator) (identity.Identity, error) {
	auth := r.Header.Get("Authorization")
	bearer, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || bearer == "" || validate == nil {
		return anonymousIdentity(), nil
	}
	claims, err := validate(bearer)
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.Derive(claims), nil
}

// anonymousIdentity mints a fresh, unforgeable identity for a connection
// that presented no bearer token, using a random subject so two anonymous
// connections never collide.
func anonymousIdentity() identity.Identity {
	return identity.Derive(identity.Claims{Issuer: "anonymous", Subject: uuid.NewString()})
}
