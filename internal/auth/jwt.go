// Carelog - Clinic Audit and Compliance Trail
// Copyright 2026 Carelog Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/carelog/carelog

package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carelog/carelog/internal/logging"
)

// Claims are the token claims issued by the clinic's auth service.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Bearer returns middleware that parses an HS256 bearer token and attaches
// the resulting Actor to the request context. Invalid or missing tokens do
// not reject the request; the request simply proceeds without an actor.
// Enforcement (RequireActor) is a separate concern applied per route group.
func Bearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr := strings.TrimPrefix(header, "Bearer ")
			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				logging.Debug().Err(err).Msg("Rejected bearer token")
				next.ServeHTTP(w, r)
				return
			}

			actor := &Actor{
				ID:    claims.Subject,
				Email: claims.Email,
				Name:  claims.Name,
				Role:  claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}

// RequireActor returns middleware that rejects requests without an
// authenticated actor. Applied to the audit query API route group.
func RequireActor(reject func(w http.ResponseWriter, r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ActorFromContext(r.Context()) == nil {
				reject(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
