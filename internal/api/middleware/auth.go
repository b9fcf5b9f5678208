package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// PatientClaims are the claims of a patient-facing access token. The patient
// claim carries the FHIR Patient id the token is scoped to, as in SMART launch context.
type PatientClaims struct {
	jwt.RegisteredClaims
	Patient string `json:"patient"`
	Scope   string `json:"scope,omitempty"`
}

// JWTConfig configures patient token validation
type JWTConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
}

// PatientAuth validates an HS256 bearer token and puts its patient id in the context
func PatientAuth(cfg JWTConfig) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims := &PatientClaims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, keyFunc)
			if err != nil || !token.Valid {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
			if claims.Patient == "" {
				writeError(w, http.StatusForbidden, "token has no patient context")
				return
			}

			recordIdentity(r.Context(), "", claims.Patient)
			ctx := context.WithValue(r.Context(), PatientIDKey, claims.Patient)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPatientID extracts the authenticated patient id from context
func GetPatientID(ctx context.Context) string {
	id, _ := ctx.Value(PatientIDKey).(string)
	return id
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
