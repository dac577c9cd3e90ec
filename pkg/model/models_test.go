package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidReadingStatus(t *testing.T) {
	assert.True(t, ValidReadingStatus(StatusUnread))
	assert.True(t, ValidReadingStatus(StatusReading))
	assert.True(t, ValidReadingStatus(StatusCompleted))

	assert.False(t, ValidReadingStatus(""))
	assert.False(t, ValidReadingStatus("Unread"))
	assert.False(t, ValidReadingStatus("archived"))
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, NotFoundf("post %d", 1), ErrNotFound)
	assert.ErrorIs(t, Forbiddenf("nope"), ErrForbidden)
	assert.ErrorIs(t, InvalidInputf("bad"), ErrInvalidInput)
	assert.ErrorIs(t, Conflictf("dup"), ErrConflict)
	assert.ErrorIs(t, Upstreamf("store"), ErrUpstream)

	assert.Contains(t, NotFoundf("post %d", 1).Error(), "post 1")
}

func TestUserJSONHidesCredentials(t *testing.T) {
	user := User{
		UserID:    1,
		Username:  "ada",
		PwdHashed: "secret-hash",
		Salt:      "secret-salt",
	}
	data, err := json.Marshal(user)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "secret-hash")
	assert.NotContains(t, string(data), "secret-salt")
	assert.Contains(t, string(data), `"username":"ada"`)
}

func TestEmailJobJSONRoundTrip(t *testing.T) {
	job := EmailJob{
		ReqID:          7,
		NotificationID: 8,
		Recipient:      9,
		Type:           NotificationComment,
		ActorID:        10,
		PostID:         11,
		CommentText:    "nice",
		EnqueuedTs:     12345,
	}
	data, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded EmailJob
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, job.NotificationID, decoded.NotificationID)
	assert.Equal(t, job.Recipient, decoded.Recipient)
	assert.Equal(t, job.Type, decoded.Type)
	assert.Equal(t, job.CommentText, decoded.CommentText)
}
