// Package auth identifies the caller of an API request.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ContextKey is used to store user information in the request context
type ContextKey string

const (
	// UserIDKey is the context key for storing the user ID
	UserIDKey ContextKey = "user_id"
	// UserHeaderName carries the authenticated user, set by the gateway in
	// front of the API.
	UserHeaderName = "X-User-ID"

	maxUserIDLength = 128
)

var ErrNoUser = errors.New("user ID not found in context")

// Authenticate rejects requests without a user and stores the user ID in
// the request context.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeaderName))
		if userID == "" {
			http.Error(w, "Unauthorized: missing "+UserHeaderName+" header", http.StatusUnauthorized)
			return
		}

		if len(userID) > maxUserIDLength {
			http.Error(w, "Unauthorized: invalid user", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the user ID from the request context
func GetUserID(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(UserIDKey).(string)
	if !ok || userID == "" {
		return "", ErrNoUser
	}

	return userID, nil
}
