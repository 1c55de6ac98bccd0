package auth

import (
	"context"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"chat-platform/services/chat-api/internal/config"
	"chat-platform/services/chat-api/internal/utils/platformerrors"
)

// Identity is the authenticated principal behind a connection. Anonymous
// connections carry a zero Identity.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
	// RawToken is forwarded to tool providers as the delegated credential.
	RawToken string
}

// Anonymous reports whether the identity carries no authenticated user.
func (i Identity) Anonymous() bool {
	return i.UserID == ""
}

// Validator validates JWTs using JWKS.
type Validator struct {
	cfg  *config.Config
	log  zerolog.Logger
	jwks *keyfunc.JWKS
}

// NewValidator initializes JWKS fetching when auth is enabled.
func NewValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Validator, error) {
	if !cfg.AuthEnabled {
		return &Validator{cfg: cfg, log: log}, nil
	}

	options := keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error().Err(err).Msg("jwks refresh error")
		},
	}

	jwks, err := keyfunc.Get(cfg.AuthJWKSURL, options)
	if err != nil {
		return nil, err
	}

	return &Validator{
		cfg:  cfg,
		log:  log,
		jwks: jwks,
	}, nil
}

// Resolve turns a bearer token into an Identity. With auth disabled every
// connection is anonymous. With auth enabled but not required, a missing
// token yields an anonymous identity while an invalid one is still
// rejected.
func (v *Validator) Resolve(ctx context.Context, tokenString string) (Identity, error) {
	if !v.cfg.AuthEnabled {
		return Identity{}, nil
	}

	if tokenString == "" {
		if v.cfg.AuthRequired {
			return Identity{}, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
				platformerrors.ErrorTypeUnauthorized, "missing bearer token", nil)
		}
		return Identity{}, nil
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc,
		jwt.WithIssuer(v.cfg.AuthIssuer),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
	)
	if err != nil || !token.Valid {
		return Identity{}, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeUnauthorized, "invalid token", err)
	}

	return identityFromClaims(claims, tokenString), nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func identityFromClaims(claims jwt.MapClaims, rawToken string) Identity {
	identity := Identity{RawToken: rawToken}

	if sub, ok := claims["sub"].(string); ok {
		identity.UserID = sub
	}
	if username, ok := claims["preferred_username"].(string); ok {
		identity.Username = username
	} else if email, ok := claims["email"].(string); ok {
		identity.Username = email
	}

	if realm, ok := claims["realm_access"].(map[string]any); ok {
		if roles, ok := realm["roles"].([]any); ok {
			for _, r := range roles {
				if role, ok := r.(string); ok {
					identity.Roles = append(identity.Roles, role)
				}
			}
		}
	}
	return identity
}
