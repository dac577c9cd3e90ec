package services

import (
	"strconv"
	"testing"
	"time"

	"github.com/hathongthuong2k3/dev.io/pkg/model"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPwdDeterministic(t *testing.T) {
	first := hashPwd([]byte("hunter2saltsalt"))
	second := hashPwd([]byte("hunter2saltsalt"))
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)

	different := hashPwd([]byte("hunter2othersalt"))
	assert.NotEqual(t, first, different)
}

func TestGenRandomStrLengthAndAlphabet(t *testing.T) {
	salt := genRandomStr(10)
	assert.Len(t, salt, 10)
	for _, r := range salt {
		assert.Contains(t, string(letterRunes), string(r))
	}
}

func TestBuildProfileSet(t *testing.T) {
	set := BuildProfileSet(model.ProfileUpdate{
		Name:     "Ada",
		Headline: "engineer",
		Skills:   []string{"go", "mongodb"},
	})
	assert.Equal(t, "Ada", set["name"])
	assert.Equal(t, "engineer", set["headline"])
	assert.Equal(t, []string{"go", "mongodb"}, set["skills"])
	assert.NotContains(t, set, "location")
	assert.NotContains(t, set, "about")
	assert.NotContains(t, set, "profile_picture")
}

func TestBuildProfileSetEmptyUpdate(t *testing.T) {
	set := BuildProfileSet(model.ProfileUpdate{})
	assert.Empty(t, set)
}

func TestBuildProfileSetEmptySkillsSlice(t *testing.T) {
	// an explicit empty slice clears the skills, nil leaves them alone
	set := BuildProfileSet(model.ProfileUpdate{Skills: []string{}})
	assert.Contains(t, set, "skills")
}

func TestClaimsTokenRoundTrip(t *testing.T) {
	secret := "test-secret"
	expire := time.Now().Add(TOKEN_TTL)
	claims := &Claims{
		Username:  "ada",
		UserID:    strconv.FormatInt(42, 10),
		Timestamp: time.Now().UnixMilli(),
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expire.Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	parsed := &Claims{}
	result, err := jwt.ParseWithClaims(signed, parsed, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	require.True(t, result.Valid)
	assert.Equal(t, "ada", parsed.Username)
	assert.Equal(t, "42", parsed.UserID)
}

func TestClaimsTokenWrongSecret(t *testing.T) {
	claims := &Claims{
		Username: "ada",
		UserID:   "42",
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(TOKEN_TTL).Unix(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("right"))
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(signed, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte("wrong"), nil
	})
	assert.Error(t, err)
}
