package services

import (
	"context"
	"sort"
	"time"

	"github.com/hathongthuong2k3/dev.io/pkg/model"
	"github.com/hathongthuong2k3/dev.io/pkg/storage"

	"github.com/ServiceWeaver/weaver"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ReadingListService interface {
	Add(ctx context.Context, reqID int64, userID int64, postID int64) error
	Remove(ctx context.Context, reqID int64, userID int64, postID int64) error
	UpdateStatus(ctx context.Context, reqID int64, userID int64, postID int64, status string) error
	List(ctx context.Context, reqID int64, userID int64, statusFilter string) ([]model.ReadingEntry, error)
}

type readingListService struct {
	weaver.Implements[ReadingListService]
	weaver.WithConfig[readingListServiceOptions]
	mongoClient *mongo.Client
}

type readingListServiceOptions struct {
	MongoDBAddr string `toml:"mongodb_address"`
	MongoDBPort int    `toml:"mongodb_port"`
	Region      string `toml:"region"`
}

func (r *readingListService) userCollection() *mongo.Collection {
	return r.mongoClient.Database("user").Collection("user")
}

func (r *readingListService) postCollection() *mongo.Collection {
	return r.mongoClient.Database("poststorage").Collection("posts")
}

func (r *readingListService) Init(ctx context.Context) error {
	logger := r.Logger(ctx)

	var err error
	r.mongoClient, err = storage.MongoDBClient(ctx, r.Config().MongoDBAddr, r.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	logger.Info("reading list service running!", "region", r.Config().Region,
		"mongodb_addr", r.Config().MongoDBAddr, "mongodb_port", r.Config().MongoDBPort,
	)
	return nil
}

// Add inserts the post into the user's reading list as unread. The membership
// guard in the filter keeps the list unique per post without a read-modify-write
// of the whole user document.
func (r *readingListService) Add(ctx context.Context, reqID int64, userID int64, postID int64) error {
	logger := r.Logger(ctx)
	logger.Debug("entering Add", "req_id", reqID, "user_id", userID, "post_id", postID)

	count, err := r.postCollection().CountDocuments(ctx, bson.D{{Key: "post_id", Value: postID}})
	if err != nil {
		logger.Error("error checking post in mongodb", "msg", err.Error())
		return err
	}
	if count == 0 {
		return model.NotFoundf("post %d", postID)
	}

	entry := model.ReadingEntry{
		PostID:  postID,
		Status:  model.StatusUnread,
		AddedAt: time.Now().UnixMilli(),
	}
	filter, update := addEntryDocs(userID, entry)
	result, err := r.userCollection().UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error updating reading list in mongodb", "msg", err.Error())
		return err
	}
	if result.ModifiedCount == 0 {
		if err := r.checkUser(ctx, userID); err != nil {
			return err
		}
		return model.Conflictf("post %d already in reading list", postID)
	}
	return nil
}

// Remove deletes the entry for postID, failing when it is not present.
func (r *readingListService) Remove(ctx context.Context, reqID int64, userID int64, postID int64) error {
	logger := r.Logger(ctx)
	logger.Debug("entering Remove", "req_id", reqID, "user_id", userID, "post_id", postID)

	filter, update := removeEntryDocs(userID, postID)
	result, err := r.userCollection().UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error updating reading list in mongodb", "msg", err.Error())
		return err
	}
	if result.ModifiedCount == 0 {
		if err := r.checkUser(ctx, userID); err != nil {
			return err
		}
		return model.Conflictf("post %d not in reading list", postID)
	}
	return nil
}

// UpdateStatus moves the entry for postID to status. The status is validated
// before any lookup happens.
func (r *readingListService) UpdateStatus(ctx context.Context, reqID int64, userID int64, postID int64, status string) error {
	logger := r.Logger(ctx)
	logger.Debug("entering UpdateStatus", "req_id", reqID, "user_id", userID, "post_id", postID, "status", status)

	if !model.ValidReadingStatus(status) {
		return model.InvalidInputf("invalid reading status %q", status)
	}

	filter, update := setEntryStatusDocs(userID, postID, status)
	result, err := r.userCollection().UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error updating reading status in mongodb", "msg", err.Error())
		return err
	}
	if result.MatchedCount == 0 {
		if err := r.checkUser(ctx, userID); err != nil {
			return err
		}
		return model.Conflictf("post %d not in reading list", postID)
	}
	return nil
}

// List returns the reading list sorted by added time, newest first, optionally
// filtered to a single status.
func (r *readingListService) List(ctx context.Context, reqID int64, userID int64, statusFilter string) ([]model.ReadingEntry, error) {
	logger := r.Logger(ctx)
	logger.Debug("entering List", "req_id", reqID, "user_id", userID, "status", statusFilter)

	if statusFilter != "" && !model.ValidReadingStatus(statusFilter) {
		return nil, model.InvalidInputf("invalid reading status %q", statusFilter)
	}

	opts := options.FindOne().SetProjection(bson.D{{Key: "reading_list", Value: 1}})
	var user model.User
	err := r.userCollection().FindOne(ctx, bson.D{{Key: "user_id", Value: userID}}, opts).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return nil, model.NotFoundf("user %d", userID)
	}
	if err != nil {
		logger.Error("error reading user from mongodb", "msg", err.Error())
		return nil, err
	}

	entries := user.ReadingList
	if statusFilter != "" {
		entries = FilterEntriesByStatus(entries, statusFilter)
	}
	SortEntriesNewestFirst(entries)
	return entries, nil
}

func (r *readingListService) checkUser(ctx context.Context, userID int64) error {
	count, err := r.userCollection().CountDocuments(ctx, bson.D{{Key: "user_id", Value: userID}})
	if err != nil {
		r.Logger(ctx).Error("error checking user in mongodb", "msg", err.Error())
		return err
	}
	if count == 0 {
		return model.NotFoundf("user %d", userID)
	}
	return nil
}

// addEntryDocs guards the push on absence of the post id, so the list stays
// unique per post without reading the document first: a second add matches
// nothing and surfaces as ModifiedCount 0.
func addEntryDocs(userID int64, entry model.ReadingEntry) (bson.M, bson.M) {
	filter := bson.M{
		"user_id":              userID,
		"reading_list.post_id": bson.M{"$ne": entry.PostID},
	}
	return filter, bson.M{"$push": bson.M{"reading_list": entry}}
}

// removeEntryDocs requires membership in the filter, so removing an absent
// entry matches nothing instead of silently succeeding.
func removeEntryDocs(userID int64, postID int64) (bson.M, bson.M) {
	filter := bson.M{
		"user_id":              userID,
		"reading_list.post_id": postID,
	}
	return filter, bson.M{"$pull": bson.M{"reading_list": bson.M{"post_id": postID}}}
}

// setEntryStatusDocs targets the matched entry positionally.
func setEntryStatusDocs(userID int64, postID int64, status string) (bson.M, bson.M) {
	filter := bson.M{
		"user_id":              userID,
		"reading_list.post_id": postID,
	}
	return filter, bson.M{"$set": bson.M{"reading_list.$.status": status}}
}

// FilterEntriesByStatus keeps entries whose status equals status, preserving
// order.
func FilterEntriesByStatus(entries []model.ReadingEntry, status string) []model.ReadingEntry {
	filtered := make([]model.ReadingEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Status == status {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// SortEntriesNewestFirst orders entries by added time descending; entries added
// in the same millisecond keep their insertion order.
func SortEntriesNewestFirst(entries []model.ReadingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AddedAt > entries[j].AddedAt
	})
}
