package rest

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/hathongthuong2k3/dev.io/pkg/model"
	"github.com/hathongthuong2k3/dev.io/pkg/services"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{model.NotFoundf("post 1"), http.StatusNotFound},
		{model.Forbiddenf("not the author"), http.StatusForbidden},
		{model.InvalidInputf("bad status"), http.StatusBadRequest},
		{model.Conflictf("already following"), http.StatusBadRequest},
		{model.Upstreamf("media store"), http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err), "error %v", c.err)
	}
}

func TestCredentialRejection(t *testing.T) {
	assert.True(t, credentialRejection(model.Forbiddenf("invalid credentials")))

	// infrastructure failures keep their taxonomy status instead of
	// masquerading as a wrong password
	assert.False(t, credentialRejection(model.Upstreamf("redis down")))
	assert.False(t, credentialRejection(assert.AnError))
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestBearerTokenRejects(t *testing.T) {
	for _, header := range []string{"", "Bearer", "Bearer ", "Basic abc", "bearer abc"} {
		_, err := BearerToken(header)
		assert.Error(t, err, "header %q", header)
	}
}

func signToken(t *testing.T, secret string, userID string, expiresAt int64) string {
	t.Helper()
	claims := &services.Claims{
		Username: "ada",
		UserID:   userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expiresAt,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseUserID(t *testing.T) {
	signed := signToken(t, "secret", strconv.FormatInt(42, 10), time.Now().Add(time.Hour).Unix())
	userID, err := ParseUserID(signed, "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestParseUserIDWrongSecret(t *testing.T) {
	signed := signToken(t, "secret", "42", time.Now().Add(time.Hour).Unix())
	_, err := ParseUserID(signed, "other")
	assert.Error(t, err)
}

func TestParseUserIDExpired(t *testing.T) {
	signed := signToken(t, "secret", "42", time.Now().Add(-time.Hour).Unix())
	_, err := ParseUserID(signed, "secret")
	assert.Error(t, err)
}

func TestParseUserIDBadSubject(t *testing.T) {
	signed := signToken(t, "secret", "not-a-number", time.Now().Add(time.Hour).Unix())
	_, err := ParseUserID(signed, "secret")
	assert.Error(t, err)
}
