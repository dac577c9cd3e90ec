package services

import (
	"strings"
	"testing"

	"github.com/hathongthuong2k3/dev.io/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestNormalizeTagName(t *testing.T) {
	name, err := NormalizeTagName("  GoLang  ")
	require.NoError(t, err)
	assert.Equal(t, "golang", name)

	name, err = NormalizeTagName("machine-learning")
	require.NoError(t, err)
	assert.Equal(t, "machine-learning", name)
}

func TestNormalizeTagNameEmpty(t *testing.T) {
	_, err := NormalizeTagName("   ")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestNormalizeTagNameTooLong(t *testing.T) {
	_, err := NormalizeTagName(strings.Repeat("a", MAX_TAG_NAME_LEN+1))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	// exactly at the limit is fine
	name, err := NormalizeTagName(strings.Repeat("a", MAX_TAG_NAME_LEN))
	require.NoError(t, err)
	assert.Len(t, name, MAX_TAG_NAME_LEN)
}

func TestNormalizeTagNamesDedupesPreservingOrder(t *testing.T) {
	names, err := NormalizeTagNames([]string{"Go", "rust", "GO", " go ", "Rust", "zig"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "rust", "zig"}, names)
}

func TestNormalizeTagNamesPropagatesInvalid(t *testing.T) {
	_, err := NormalizeTagNames([]string{"go", ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestNormalizeTagNamesEmptyInput(t *testing.T) {
	names, err := NormalizeTagNames(nil)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestValidateSearchQuery(t *testing.T) {
	query, err := ValidateSearchQuery("  go  ")
	require.NoError(t, err)
	assert.Equal(t, "go", query)
}

func TestValidateSearchQueryTooShort(t *testing.T) {
	for _, query := range []string{"", "g", "  g  ", " "} {
		_, err := ValidateSearchQuery(query)
		require.Error(t, err, "query %q", query)
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	}
}

func TestGuardedSetAddPairsCounterWithMembership(t *testing.T) {
	filter, update := guardedSetAdd("followers", "follower_count", 7)

	// the filter excludes documents already holding the member, so a lost
	// race or a replay modifies nothing
	assert.Equal(t, bson.M{"$ne": int64(7)}, filter["followers"])

	// the counter moves in the same atomic document as the membership
	assert.Equal(t, bson.M{"followers": int64(7)}, update["$push"])
	assert.Equal(t, bson.M{"follower_count": 1}, update["$inc"])
	assert.Len(t, update, 2)
}

func TestGuardedSetRemoveRequiresMembership(t *testing.T) {
	filter, update := guardedSetRemove("posts", "post_count", 9)

	assert.Equal(t, int64(9), filter["posts"])
	assert.Equal(t, bson.M{"posts": int64(9)}, update["$pull"])
	assert.Equal(t, bson.M{"post_count": -1}, update["$inc"])
	assert.Len(t, update, 2)
}

func TestGuardedSetAddRemoveAreComplementary(t *testing.T) {
	addFilter, _ := guardedSetAdd("followers", "follower_count", 3)
	removeFilter, _ := guardedSetRemove("followers", "follower_count", 3)

	// a document matched by the add filter can never match the remove filter,
	// so follow then unfollow always nets the counter back to its start
	assert.Equal(t, bson.M{"$ne": int64(3)}, addFilter["followers"])
	assert.Equal(t, int64(3), removeFilter["followers"])
}

func TestTagRankSort(t *testing.T) {
	sort := tagRankSort()
	require.Len(t, sort, 2)
	assert.Equal(t, "follower_count", sort[0].Key)
	assert.Equal(t, -1, sort[0].Value)
	assert.Equal(t, "post_count", sort[1].Key)
	assert.Equal(t, -1, sort[1].Value)
}
