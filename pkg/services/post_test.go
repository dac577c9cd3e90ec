package services

import (
	"testing"

	"github.com/hathongthuong2k3/dev.io/pkg/model"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestLikeDocsGuardAgainstDoubleAdd(t *testing.T) {
	filter, update := likeDocs(1, 2)

	assert.Equal(t, int64(1), filter["post_id"])
	assert.Equal(t, bson.M{"$ne": int64(2)}, filter["likes"])
	assert.Equal(t, bson.M{"likes": int64(2)}, update["$push"])
	assert.Len(t, update, 1)
}

func TestUnlikeDocsRequireMembership(t *testing.T) {
	filter, update := unlikeDocs(1, 2)

	assert.Equal(t, int64(1), filter["post_id"])
	assert.Equal(t, int64(2), filter["likes"])
	assert.Equal(t, bson.M{"likes": int64(2)}, update["$pull"])
	assert.Len(t, update, 1)
}

func TestToggleHalvesAreMutuallyExclusive(t *testing.T) {
	unlikeFilter, _ := unlikeDocs(1, 2)
	likeFilter, _ := likeDocs(1, 2)

	// for any likes set exactly one half matches, so one toggle is one
	// transition and two toggles restore the original set
	assert.Equal(t, int64(2), unlikeFilter["likes"])
	assert.Equal(t, bson.M{"$ne": int64(2)}, likeFilter["likes"])
}

func TestCommentPushIsSingleAppend(t *testing.T) {
	comment := model.Comment{UserID: 3, Content: "nice", CreatedAt: 9}
	update := commentPush(comment)

	// a lone $push never rewrites the comments array, so concurrent
	// commenters interleave instead of overwriting each other
	assert.Equal(t, bson.M{"comments": comment}, update["$push"])
	assert.Len(t, update, 1)
}
