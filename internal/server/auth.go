package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"deskline/internal/domain"
	"deskline/internal/repo"
)

type AuthConfig struct {
	JWTSecret string

	// AllowDevLogin enables the token-minting endpoint. Never turn this on
	// outside local development.
	AllowDevLogin bool

	// TokenTTL bounds dev-issued tokens. Zero means one hour.
	TokenTTL time.Duration
}

type claimKey struct{}

func withClaim(ctx context.Context, c domain.Claim) context.Context {
	return context.WithValue(ctx, claimKey{}, c)
}

func claimFromContext(ctx context.Context) (domain.Claim, huma.StatusError) {
	if c, ok := ctx.Value(claimKey{}).(domain.Claim); ok && c.ID != "" {
		return c, nil
	}
	return domain.Claim{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Role              string `json:"role,omitempty"`
	IsActive          *bool  `json:"is_active,omitempty"`
	CanApproveBilling bool   `json:"can_approve_billing,omitempty"`
}

func issueToken(secret string, claim domain.Claim, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	active := claim.IsActive
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claim.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:              string(claim.Role),
		IsActive:          &active,
		CanApproveBilling: claim.CanApproveBilling,
	})
	return token.SignedString([]byte(secret))
}

// authenticateJWT verifies the token and re-derives the claim from the user
// row, so a token issued before an account was blocked or demoted does not
// keep its old powers. Accounts without a user row (client logins provisioned
// externally) fall back to the token's own claims.
func authenticateJWT(ctx context.Context, r repo.Repo, token, secret string) (domain.Claim, error) {
	if strings.TrimSpace(secret) == "" {
		return domain.Claim{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return domain.Claim{}, err
	}
	if !parsed.Valid {
		return domain.Claim{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return domain.Claim{}, errors.New("subject claim required")
	}
	if user, err := r.GetUser(ctx, claims.Subject); err == nil {
		return user.Claim(), nil
	} else if err != repo.ErrNotFound {
		return domain.Claim{}, err
	}
	c := domain.Claim{
		ID:                claims.Subject,
		Role:              domain.Role(claims.Role),
		IsActive:          claims.IsActive == nil || *claims.IsActive,
		CanApproveBilling: claims.CanApproveBilling,
	}
	if !c.Role.Known() {
		return domain.Claim{}, errors.New("unknown role claim")
	}
	return c, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (domain.Claim, error) {
	if strings.TrimSpace(key) == "" {
		return domain.Claim{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return domain.Claim{}, err
	}
	user, err := r.GetUser(ctx, apiKey.UserID)
	if err != nil {
		return domain.Claim{}, err
	}
	return user.Claim(), nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath || req.URL.Path == devLoginPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				claim, err := authenticateJWT(req.Context(), r, token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withClaim(req.Context(), claim)))
				return
			}

			if apiKeyHeader != "" {
				claim, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withClaim(req.Context(), claim)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
