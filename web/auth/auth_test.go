package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
		user   string
	}{
		{name: "valid user", header: "user-1", want: http.StatusOK, user: "user-1"},
		{name: "trims spaces", header: "  user-2 ", want: http.StatusOK, user: "user-2"},
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "too long", header: strings.Repeat("u", 200), want: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got string

			h := Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = GetUserID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(UserHeaderName, tc.header)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, tc.user, got)
		})
	}
}

func TestGetUserIDMissing(t *testing.T) {
	_, err := GetUserID(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.ErrorIs(t, err, ErrNoUser)
}
