package api

import (
	"fmt"
	"net/http"
	"strings"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/logging"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Claims are the bearer token claims. The subject identifies the actor.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator builds an Authenticator. An empty issuer is not checked.
func NewAuthenticator(secret []byte, issuer string) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Authenticator{secret: secret, parser: jwt.NewParser(opts...)}
}

// Authenticate parses the Authorization header value into an actor.
func (a *Authenticator) Authenticate(header string) (audit.Actor, error) {
	if header == "" {
		return audit.Actor{}, fmt.Errorf("authorization header required")
	}
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return audit.Actor{}, fmt.Errorf("bearer token required")
	}

	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return audit.Actor{}, err
	}
	if !token.Valid || claims.Subject == "" {
		return audit.Actor{}, fmt.Errorf("token has no subject")
	}

	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return audit.Actor{ID: claims.Subject, Name: name}, nil
}

// Sign issues a token for actor. Used by operators and tests.
func (a *Authenticator) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// authMiddleware puts the authenticated actor in the request context.
// A nil authenticator lets every request through as the system actor.
func authMiddleware(auth *Authenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			actor, err := auth.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				logging.FromContext(r.Context()).Debug("authentication failed", zap.Error(err))
				writeError(w, r, unauthorized("invalid or missing token"))
				return
			}

			ctx := audit.WithActor(r.Context(), actor)
			ctx = logging.WithContext(ctx, logging.FromContext(ctx).With(zap.String("actor", actor.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
