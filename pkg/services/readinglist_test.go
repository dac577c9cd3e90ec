package services

import (
	"testing"

	"github.com/hathongthuong2k3/dev.io/pkg/model"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func TestAddEntryDocsSecondAddMatchesNothing(t *testing.T) {
	entry := model.ReadingEntry{PostID: 5, Status: model.StatusUnread, AddedAt: 1}
	filter, update := addEntryDocs(9, entry)

	// once the entry is present the filter no longer matches, so a duplicate
	// add reports ModifiedCount 0 instead of growing the list
	assert.Equal(t, int64(9), filter["user_id"])
	assert.Equal(t, bson.M{"$ne": int64(5)}, filter["reading_list.post_id"])
	assert.Equal(t, bson.M{"reading_list": entry}, update["$push"])
}

func TestRemoveEntryDocsRequireMembership(t *testing.T) {
	filter, update := removeEntryDocs(9, 5)

	assert.Equal(t, int64(9), filter["user_id"])
	assert.Equal(t, int64(5), filter["reading_list.post_id"])
	assert.Equal(t, bson.M{"reading_list": bson.M{"post_id": int64(5)}}, update["$pull"])
}

func TestSetEntryStatusDocsTargetPositionally(t *testing.T) {
	filter, update := setEntryStatusDocs(9, 5, model.StatusReading)

	assert.Equal(t, int64(5), filter["reading_list.post_id"])
	assert.Equal(t, bson.M{"reading_list.$.status": model.StatusReading}, update["$set"])
	assert.Len(t, update, 1)
}

func TestFilterEntriesByStatus(t *testing.T) {
	entries := []model.ReadingEntry{
		{PostID: 1, Status: model.StatusUnread, AddedAt: 10},
		{PostID: 2, Status: model.StatusReading, AddedAt: 20},
		{PostID: 3, Status: model.StatusUnread, AddedAt: 30},
		{PostID: 4, Status: model.StatusCompleted, AddedAt: 40},
	}

	unread := FilterEntriesByStatus(entries, model.StatusUnread)
	assert.Equal(t, []int64{1, 3}, entryIDs(unread))

	completed := FilterEntriesByStatus(entries, model.StatusCompleted)
	assert.Equal(t, []int64{4}, entryIDs(completed))

	assert.Empty(t, FilterEntriesByStatus(entries, "archived"))
	assert.Empty(t, FilterEntriesByStatus(nil, model.StatusUnread))
}

func TestSortEntriesNewestFirst(t *testing.T) {
	entries := []model.ReadingEntry{
		{PostID: 1, AddedAt: 10},
		{PostID: 2, AddedAt: 30},
		{PostID: 3, AddedAt: 20},
	}
	SortEntriesNewestFirst(entries)
	assert.Equal(t, []int64{2, 3, 1}, entryIDs(entries))
}

func TestSortEntriesNewestFirstStableOnTies(t *testing.T) {
	entries := []model.ReadingEntry{
		{PostID: 1, AddedAt: 20},
		{PostID: 2, AddedAt: 20},
		{PostID: 3, AddedAt: 20},
	}
	SortEntriesNewestFirst(entries)
	assert.Equal(t, []int64{1, 2, 3}, entryIDs(entries))
}

func entryIDs(entries []model.ReadingEntry) []int64 {
	ids := make([]int64, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.PostID)
	}
	return ids
}
