package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-pickup/internal/lifecycle"
	"ms-pickup/internal/models"
)

// UserLoader resolves a token subject to the stored account carrying role,
// approval status and restaurant assignment.
type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Verifier turns a raw bearer token into a subject.
type Verifier interface {
	Subject(ctx context.Context, rawToken string) (string, error)
}

// OIDCVerifier validates tokens against a hosted identity provider.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, issuer string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true}),
	}, nil
}

func (v *OIDCVerifier) Subject(ctx context.Context, rawToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	var claims struct {
		Sub string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}
	return claims.Sub, nil
}

// SecretVerifier validates HS256 tokens with a shared secret. Dev/test.
type SecretVerifier struct {
	Secret string
}

func (v SecretVerifier) Subject(_ context.Context, rawToken string) (string, error) {
	return SubjectFromToken(rawToken, v.Secret)
}

// Middleware authenticates every request: bearer token to subject, subject
// to stored user, user to actor in the request context. Capability checks
// happen downstream; this layer only establishes identity.
func Middleware(verifier Verifier, users UserLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			sub, err := verifier.Subject(r.Context(), rawToken)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			user, err := users.GetUserByID(r.Context(), sub)
			if err != nil {
				http.Error(w, "unknown account", http.StatusUnauthorized)
				return
			}

			actor := lifecycle.Actor{
				ID:           user.ID,
				Role:         user.Role,
				Status:       user.Status,
				RestaurantID: user.RestaurantID,
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
