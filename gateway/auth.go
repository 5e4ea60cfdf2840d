// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Caller is the authenticated identity extracted from a JWT.
type Caller struct {
	ClientID    string
	Name        string
	Permissions []string
}

// CallerFromContext returns the authenticated caller, if any.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(*Caller)
	return caller, ok
}

// validateToken parses a bearer token and extracts the caller identity.
func (g *Gateway) validateToken(tokenString string) (*Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return g.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	clientID := getClaimString(claims, "client_id")
	if clientID == "" {
		clientID = getClaimString(claims, "sub")
	}
	if clientID == "" {
		return nil, fmt.Errorf("token missing client identity")
	}

	return &Caller{
		ClientID:    clientID,
		Name:        getClaimString(claims, "name"),
		Permissions: getClaimStringArray(claims, "permissions"),
	}, nil
}

// authMiddleware authenticates requests and applies the per-client rate
// limit. When no JWT secret is configured the gateway runs open, rate
// limited by remote address.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := r.RemoteAddr

		if len(g.jwtSecret) > 0 {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				g.sendError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			caller, err := g.validateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				g.logger.ErrorWithCode("", "", "Token validation failed", http.StatusUnauthorized, err, nil)
				g.sendError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			clientID = caller.ClientID
			r = r.WithContext(context.WithValue(r.Context(), callerContextKey, caller))
		}

		if err := g.limiter.Allow(r.Context(), clientID); err != nil {
			g.sendError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}

func getClaimStringArray(claims jwt.MapClaims, key string) []string {
	if val, ok := claims[key].(string); ok {
		if val == "" {
			return []string{}
		}
		return strings.Split(val, ",")
	}
	return []string{}
}
