/**
 * @description
 * This file contains custom middleware for the HTTP router. The service is an
 * internal backend component: callers are other services carrying short-lived
 * HS256 service tokens, validated here. The authenticated actor and its
 * clearance claim are added to the request context for handlers.
 *
 * @dependencies
 * - context, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// actorContextKey is a custom type for context keys to avoid collisions.
type actorContextKey string

const (
	actorIDKey   actorContextKey = "actorID"
	clearanceKey actorContextKey = "clearance"
)

// ServiceAuthMiddleware creates a middleware that validates HS256 service
// tokens. An empty secret disables authentication (local development only);
// the actor then falls back to the X-Service-Name header.
func ServiceAuthMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(strings.TrimSpace(secret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				actor := r.Header.Get("X-Service-Name")
				if actor == "" {
					actor = "anonymous"
				}
				ctx := context.WithValue(r.Context(), actorIDKey, actor)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}
			if !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			actor, ok := claims["sub"].(string)
			if !ok || actor == "" {
				http.Error(w, "Subject not found in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), actorIDKey, actor)
			if clearance, ok := claims["clearance"].(string); ok {
				ctx = context.WithValue(ctx, clearanceKey, clearance)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActorID retrieves the authenticated actor from the request context.
func GetActorID(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorIDKey).(string)
	return actor, ok
}

// GetClearance retrieves the actor's clearance claim, if present.
func GetClearance(ctx context.Context) string {
	clearance, _ := ctx.Value(clearanceKey).(string)
	return clearance
}
