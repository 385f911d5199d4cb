package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Mode: ModeJWT,
		JWT:  JWTOptions{Secret: "s3cret", Issuer: "tokenaction", Audience: []string{"api"}, AccessTTL: time.Minute},
		Seeds: []Seed{
			{Username: "minter", Password: "pw", Permissions: []string{PermissionRead, PermissionMint}},
			{Username: "reader", Password: "pw", Permissions: []string{PermissionRead}},
			{Username: "gone", Password: "pw", Disabled: true},
		},
	}, nil)
	require.NoError(t, err)
	return svc
}

func TestServicePasswordGrant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, TokenRequest{Username: "minter", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, int64(60), pair.ExpiresIn)

	subject, err := svc.AuthenticateRequest(ctx, "Bearer "+pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "minter", subject.Username)
	require.True(t, subject.HasPermission(PermissionMint))

	_, err = svc.AuthenticateRequest(ctx, "Bearer "+pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Authenticate(ctx, TokenRequest{Username: "minter", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, TokenRequest{Username: "gone", Password: "pw"})
	require.ErrorIs(t, err, ErrSubjectRevoked)

	_, err = svc.Authenticate(ctx, TokenRequest{GrantType: "client_credentials"})
	require.ErrorIs(t, err, ErrUnsupportedGrant)
}

func TestServiceRefreshGrant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, TokenRequest{Username: "reader", Password: "pw"})
	require.NoError(t, err)

	refreshed, err := svc.Authenticate(ctx, TokenRequest{GrantType: "refresh_token", RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	require.Equal(t, "reader", refreshed.Subject.Username)

	_, err = svc.Authenticate(ctx, TokenRequest{GrantType: "refresh_token", RefreshToken: pair.AccessToken})
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestServiceRejectsForeignTokens(t *testing.T) {
	svc := newTestService(t)
	other, err := NewService(Config{
		Mode:  ModeJWT,
		JWT:   JWTOptions{Secret: "other", Issuer: "tokenaction", Audience: []string{"api"}},
		Seeds: []Seed{{Username: "minter", Password: "pw"}},
	}, nil)
	require.NoError(t, err)

	pair, err := other.Authenticate(context.Background(), TokenRequest{Username: "minter", Password: "pw"})
	require.NoError(t, err)
	_, err = svc.AuthenticateRequest(context.Background(), "Bearer "+pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.AuthenticateRequest(context.Background(), "Basic abc")
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(Config{Mode: ModeJWT}, nil)
	require.Error(t, err)

	_, err = NewService(Config{Mode: "oauth"}, nil)
	require.Error(t, err)

	svc, err := NewService(Config{}, nil)
	require.NoError(t, err)
	require.False(t, svc.Enabled())
	_, err = svc.Authenticate(context.Background(), TokenRequest{})
	require.True(t, errors.Is(err, ErrDisabled))
}

func TestMiddleware(t *testing.T) {
	svc := newTestService(t)
	reader, err := svc.Authenticate(context.Background(), TokenRequest{Username: "reader", Password: "pw"})
	require.NoError(t, err)

	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{http.MethodDelete: {PermissionMint}},
		Optional:            true,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		method string
		header string
		status int
		user   string
	}{
		{name: "anonymous", method: http.MethodGet, status: http.StatusNoContent},
		{name: "reader", method: http.MethodGet, header: "Bearer " + reader.AccessToken, status: http.StatusNoContent, user: "reader"},
		{name: "garbage", method: http.MethodGet, header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "missing permission", method: http.MethodDelete, header: "Bearer " + reader.AccessToken, status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(tc.method, "/api/v1/actions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			if tc.user != "" {
				require.NotNil(t, seen)
				require.Equal(t, tc.user, seen.Username)
			}
		})
	}
}

func TestRequire(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Require(context.Background(), PermissionMint)
	require.ErrorIs(t, err, ErrMissingToken)

	ctx := WithSubject(context.Background(), &Subject{Username: "r", Permissions: []string{PermissionRead}})
	_, err = svc.Require(ctx, PermissionMint)
	require.ErrorIs(t, err, ErrPermissionDenied)

	disabled, err := NewService(Config{}, nil)
	require.NoError(t, err)
	_, err = disabled.Require(context.Background(), PermissionMint)
	require.NoError(t, err)
}
