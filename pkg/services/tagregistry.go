package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	sn_metrics "github.com/hathongthuong2k3/dev.io/pkg/metrics"
	"github.com/hathongthuong2k3/dev.io/pkg/model"
	"github.com/hathongthuong2k3/dev.io/pkg/storage"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	MAX_TAG_NAME_LEN    = 30
	MAX_TAG_DESC_LEN    = 200
	MIN_SEARCH_QUERY    = 2
	DEFAULT_TAG_LIMIT   = 10
	POPULAR_CACHE_KEY   = "tags:popular"
	POPULAR_CACHE_TTL_S = 60
)

type TagRegistryService interface {
	CreateTag(ctx context.Context, reqID int64, name string, description string) (model.Tag, bool, error)
	ResolveOrCreate(ctx context.Context, reqID int64, names []string) ([]model.Tag, error)
	GetTag(ctx context.Context, reqID int64, tagID int64) (model.Tag, error)
	AttachPost(ctx context.Context, reqID int64, tagID int64, postID int64) error
	DetachPost(ctx context.Context, reqID int64, tagID int64, postID int64) error
	Follow(ctx context.Context, reqID int64, tagID int64, userID int64) error
	Unfollow(ctx context.Context, reqID int64, tagID int64, userID int64) error
	Search(ctx context.Context, reqID int64, query string, limit int64) ([]model.Tag, error)
	Popular(ctx context.Context, reqID int64, limit int64) ([]model.Tag, error)
	ReconcileCounters(ctx context.Context, reqID int64) (int64, error)
}

type tagRegistryService struct {
	weaver.Implements[TagRegistryService]
	weaver.WithConfig[tagRegistryServiceOptions]
	uniqueIdService weaver.Ref[UniqueIdService]
	mongoClient     *mongo.Client
	redisClient     *redis.Client
}

type tagRegistryServiceOptions struct {
	MongoDBAddr string `toml:"mongodb_address"`
	MongoDBPort int    `toml:"mongodb_port"`
	RedisAddr   string `toml:"redis_address"`
	RedisPort   int    `toml:"redis_port"`
	Region      string `toml:"region"`
}

// NormalizeTagName trims and lowercases a raw tag name and rejects names that
// are empty or longer than MAX_TAG_NAME_LEN after normalization.
func NormalizeTagName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "", model.InvalidInputf("tag name is required")
	}
	if utf8.RuneCountInString(normalized) > MAX_TAG_NAME_LEN {
		return "", model.InvalidInputf("tag name %q exceeds %d characters", normalized, MAX_TAG_NAME_LEN)
	}
	return normalized, nil
}

// NormalizeTagNames normalizes every name and collapses duplicates while
// preserving the caller's input order.
func NormalizeTagNames(names []string) ([]string, error) {
	var normalized []string
	seen := make(map[string]bool)
	for _, name := range names {
		n, err := NormalizeTagName(name)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		normalized = append(normalized, n)
	}
	return normalized, nil
}

// ValidateSearchQuery trims the query and rejects anything shorter than
// MIN_SEARCH_QUERY characters before any store access happens.
func ValidateSearchQuery(query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if utf8.RuneCountInString(trimmed) < MIN_SEARCH_QUERY {
		return "", model.InvalidInputf("search query must be at least %d characters", MIN_SEARCH_QUERY)
	}
	return trimmed, nil
}

// tagRankSort is the shared ranking for search and popular listings.
func tagRankSort() bson.D {
	return bson.D{
		{Key: "follower_count", Value: -1},
		{Key: "post_count", Value: -1},
	}
}

// guardedSetAdd builds the filter fragment and update that add member to field
// only when it is absent. The counter rides the same update document, so it
// moves exactly when the membership does and a replay modifies nothing.
func guardedSetAdd(field string, counterField string, member int64) (bson.M, bson.M) {
	filter := bson.M{field: bson.M{"$ne": member}}
	update := bson.M{
		"$push": bson.M{field: member},
		"$inc":  bson.M{counterField: 1},
	}
	return filter, update
}

// guardedSetRemove is the inverse: the membership requirement in the filter
// keeps the decrement from applying twice.
func guardedSetRemove(field string, counterField string, member int64) (bson.M, bson.M) {
	filter := bson.M{field: member}
	update := bson.M{
		"$pull": bson.M{field: member},
		"$inc":  bson.M{counterField: -1},
	}
	return filter, update
}

func (t *tagRegistryService) collection() *mongo.Collection {
	return t.mongoClient.Database("tag").Collection("tag")
}

func (t *tagRegistryService) userCollection() *mongo.Collection {
	return t.mongoClient.Database("user").Collection("user")
}

func (t *tagRegistryService) Init(ctx context.Context) error {
	logger := t.Logger(ctx)

	var err error
	t.mongoClient, err = storage.MongoDBClient(ctx, t.Config().MongoDBAddr, t.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	t.redisClient = storage.RedisClient(t.Config().RedisAddr, t.Config().RedisPort)

	// the unique index on name is what makes ResolveOrCreate safe under
	// concurrent identical requests: losers of the insert race re-fetch
	_, err = t.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "tag_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "name", Value: "text"}}},
	})
	if err != nil {
		logger.Error("error creating tag indexes", "msg", err.Error())
		return err
	}

	logger.Info("tag registry service running!", "region", t.Config().Region,
		"mongodb_addr", t.Config().MongoDBAddr, "mongodb_port", t.Config().MongoDBPort,
		"redis_addr", t.Config().RedisAddr, "redis_port", t.Config().RedisPort,
	)
	return nil
}

// CreateTag returns the tag for name, inserting it first if needed. The second
// return value reports whether a new tag record was created.
func (t *tagRegistryService) CreateTag(ctx context.Context, reqID int64, name string, description string) (model.Tag, bool, error) {
	logger := t.Logger(ctx)
	logger.Debug("entering CreateTag", "req_id", reqID, "name", name)

	normalized, err := NormalizeTagName(name)
	if err != nil {
		return model.Tag{}, false, err
	}
	if utf8.RuneCountInString(description) > MAX_TAG_DESC_LEN {
		return model.Tag{}, false, model.InvalidInputf("tag description exceeds %d characters", MAX_TAG_DESC_LEN)
	}

	tag, created, err := t.insertOrFetch(ctx, reqID, normalized, description)
	if err != nil {
		logger.Error("error creating tag", "name", normalized, "msg", err.Error())
		return model.Tag{}, false, err
	}
	return tag, created, nil
}

func (t *tagRegistryService) insertOrFetch(ctx context.Context, reqID int64, normalized string, description string) (model.Tag, bool, error) {
	collection := t.collection()

	var existing model.Tag
	err := collection.FindOne(ctx, bson.D{{Key: "name", Value: normalized}}).Decode(&existing)
	if err == nil {
		return existing, false, nil
	}
	if err != mongo.ErrNoDocuments {
		return model.Tag{}, false, err
	}

	id, err := t.uniqueIdService.Get().NextID(ctx, reqID)
	if err != nil {
		return model.Tag{}, false, err
	}
	tag := model.Tag{
		TagID:       id,
		Name:        normalized,
		Description: description,
		Followers:   []int64{},
		Posts:       []int64{},
		CreatedAt:   time.Now().UnixMilli(),
	}
	_, err = collection.InsertOne(ctx, tag)
	if err == nil {
		return tag, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return model.Tag{}, false, err
	}
	// lost the race against a concurrent identical insert: the tag exists now
	err = collection.FindOne(ctx, bson.D{{Key: "name", Value: normalized}}).Decode(&existing)
	if err != nil {
		return model.Tag{}, false, err
	}
	return existing, false, nil
}

// ResolveOrCreate resolves every raw name to a tag, creating missing ones. The
// result preserves the caller's input order with input duplicates collapsed.
func (t *tagRegistryService) ResolveOrCreate(ctx context.Context, reqID int64, names []string) ([]model.Tag, error) {
	logger := t.Logger(ctx)
	logger.Debug("entering ResolveOrCreate", "req_id", reqID, "names", names)

	normalized, err := NormalizeTagNames(names)
	if err != nil {
		return nil, err
	}
	if len(normalized) == 0 {
		return []model.Tag{}, nil
	}

	filter := bson.D{{Key: "name", Value: bson.D{{Key: "$in", Value: normalized}}}}
	cur, err := t.collection().Find(ctx, filter)
	if err != nil {
		logger.Error("error reading tags from mongodb", "msg", err.Error())
		return nil, err
	}
	var existing []model.Tag
	if err := cur.All(ctx, &existing); err != nil {
		logger.Error("error parsing tags from mongodb result", "msg", err.Error())
		return nil, err
	}

	byName := make(map[string]model.Tag, len(existing))
	for _, tag := range existing {
		byName[tag.Name] = tag
	}

	resolved := make([]model.Tag, 0, len(normalized))
	for _, name := range normalized {
		tag, ok := byName[name]
		if !ok {
			var err error
			tag, _, err = t.insertOrFetch(ctx, reqID, name, "")
			if err != nil {
				logger.Error("error creating missing tag", "name", name, "msg", err.Error())
				return nil, err
			}
		}
		resolved = append(resolved, tag)
	}
	return resolved, nil
}

func (t *tagRegistryService) GetTag(ctx context.Context, reqID int64, tagID int64) (model.Tag, error) {
	logger := t.Logger(ctx)
	logger.Debug("entering GetTag", "req_id", reqID, "tag_id", tagID)

	var tag model.Tag
	err := t.collection().FindOne(ctx, bson.D{{Key: "tag_id", Value: tagID}}).Decode(&tag)
	if err == mongo.ErrNoDocuments {
		return model.Tag{}, model.NotFoundf("tag %d", tagID)
	}
	if err != nil {
		logger.Error("error reading tag from mongodb", "msg", err.Error())
		return model.Tag{}, err
	}
	return tag, nil
}

// AttachPost adds postID to the tag's post list. The membership guard in the
// filter makes the call idempotent: the counter moves only when the post was
// actually added, so a retry never double-counts.
func (t *tagRegistryService) AttachPost(ctx context.Context, reqID int64, tagID int64, postID int64) error {
	logger := t.Logger(ctx)
	logger.Debug("entering AttachPost", "req_id", reqID, "tag_id", tagID, "post_id", postID)

	filter, update := guardedSetAdd("posts", "post_count", postID)
	filter["tag_id"] = tagID
	result, err := t.collection().UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error attaching post to tag in mongodb", "msg", err.Error())
		return err
	}
	if result.ModifiedCount == 0 {
		// either already attached or the tag is gone
		if _, err := t.GetTag(ctx, reqID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// DetachPost is the inverse of AttachPost with the same guard discipline.
func (t *tagRegistryService) DetachPost(ctx context.Context, reqID int64, tagID int64, postID int64) error {
	logger := t.Logger(ctx)
	logger.Debug("entering DetachPost", "req_id", reqID, "tag_id", tagID, "post_id", postID)

	filter, update := guardedSetRemove("posts", "post_count", postID)
	filter["tag_id"] = tagID
	_, err := t.collection().UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error detaching post from tag in mongodb", "msg", err.Error())
	}
	return err
}

// Follow records userID as a follower of tagID and mirrors the edge on the
// user document. The follower set on the tag is authoritative; the counter is
// incremented only when the guarded push actually modified the set.
func (t *tagRegistryService) Follow(ctx context.Context, reqID int64, tagID int64, userID int64) error {
	logger := t.Logger(ctx)
	logger.Debug("entering Follow", "req_id", reqID, "tag_id", tagID, "user_id", userID)

	filter, update := guardedSetAdd("followers", "follower_count", userID)
	filter["tag_id"] = tagID
	result, err := t.collection().UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error updating tag followers in mongodb", "msg", err.Error())
		return err
	}

	followed := result.ModifiedCount == 1
	if !followed {
		if _, err := t.GetTag(ctx, reqID, tagID); err != nil {
			return err
		}
	}

	// mirror on the user side is an idempotent set-add, so replaying it after
	// a crash between the two writes converges both documents
	_, err = t.userCollection().UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$addToSet": bson.M{"followed_tags": tagID}},
	)
	if err != nil {
		logger.Error("error updating followed tags in mongodb", "msg", err.Error())
		return err
	}

	if !followed {
		return model.Conflictf("already following tag %d", tagID)
	}
	return nil
}

// Unfollow removes the follower edge from both sides, failing when the edge
// does not exist on the tag document.
func (t *tagRegistryService) Unfollow(ctx context.Context, reqID int64, tagID int64, userID int64) error {
	logger := t.Logger(ctx)
	logger.Debug("entering Unfollow", "req_id", reqID, "tag_id", tagID, "user_id", userID)

	filter, update := guardedSetRemove("followers", "follower_count", userID)
	filter["tag_id"] = tagID
	result, err := t.collection().UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error updating tag followers in mongodb", "msg", err.Error())
		return err
	}

	unfollowed := result.ModifiedCount == 1
	if !unfollowed {
		if _, err := t.GetTag(ctx, reqID, tagID); err != nil {
			return err
		}
	}

	_, err = t.userCollection().UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$pull": bson.M{"followed_tags": tagID}},
	)
	if err != nil {
		logger.Error("error updating followed tags in mongodb", "msg", err.Error())
		return err
	}

	if !unfollowed {
		return model.Conflictf("not following tag %d", tagID)
	}
	return nil
}

// Search runs a text search over tag names ranked by follower count then post
// count, both descending.
func (t *tagRegistryService) Search(ctx context.Context, reqID int64, query string, limit int64) ([]model.Tag, error) {
	logger := t.Logger(ctx)
	logger.Debug("entering Search", "req_id", reqID, "query", query)

	trimmed, err := ValidateSearchQuery(query)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DEFAULT_TAG_LIMIT
	}

	filter := bson.D{
		{Key: "$text", Value: bson.D{{Key: "$search", Value: trimmed}}},
	}
	opts := options.Find().SetSort(tagRankSort()).SetLimit(limit)
	cur, err := t.collection().Find(ctx, filter, opts)
	if err != nil {
		logger.Error("error searching tags in mongodb", "msg", err.Error())
		return nil, err
	}
	var tags []model.Tag
	if err := cur.All(ctx, &tags); err != nil {
		logger.Error("error parsing tags from mongodb result", "msg", err.Error())
		return nil, err
	}
	return tags, nil
}

// Popular returns the top tags by the same ranking as Search. The result is
// cached in redis for a short interval since the listing tolerates staleness.
func (t *tagRegistryService) Popular(ctx context.Context, reqID int64, limit int64) ([]model.Tag, error) {
	logger := t.Logger(ctx)
	logger.Debug("entering Popular", "req_id", reqID, "limit", limit)

	if limit <= 0 {
		limit = DEFAULT_TAG_LIMIT
	}

	cached, err := t.redisClient.Get(ctx, POPULAR_CACHE_KEY).Bytes()
	if err != nil && err != redis.Nil {
		logger.Error("error reading popular tags from cache", "msg", err.Error())
	} else if err == nil {
		var tags []model.Tag
		if err := json.Unmarshal(cached, &tags); err != nil {
			logger.Error("error parsing popular tags from cache result", "msg", err.Error())
		} else if int64(len(tags)) >= limit {
			return tags[:limit], nil
		}
	}

	opts := options.Find().SetSort(tagRankSort()).SetLimit(limit)
	cur, err := t.collection().Find(ctx, bson.D{}, opts)
	if err != nil {
		logger.Error("error reading popular tags from mongodb", "msg", err.Error())
		return nil, err
	}
	var tags []model.Tag
	if err := cur.All(ctx, &tags); err != nil {
		logger.Error("error parsing popular tags from mongodb result", "msg", err.Error())
		return nil, err
	}

	tagsJSON, err := json.Marshal(tags)
	if err == nil {
		err = t.redisClient.Set(ctx, POPULAR_CACHE_KEY, tagsJSON, time.Second*POPULAR_CACHE_TTL_S).Err()
	}
	if err != nil {
		logger.Error("error writing popular tags to cache", "msg", err.Error())
	}
	return tags, nil
}

// ReconcileCounters resyncs follower_count and post_count from the actual set
// sizes across all tag documents. It exists to heal drift left behind by
// partial failures and returns the number of documents touched.
func (t *tagRegistryService) ReconcileCounters(ctx context.Context, reqID int64) (int64, error) {
	logger := t.Logger(ctx)
	logger.Debug("entering ReconcileCounters", "req_id", reqID)

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "follower_count", Value: bson.D{{Key: "$size", Value: bson.D{
				{Key: "$ifNull", Value: bson.A{"$followers", bson.A{}}},
			}}}},
			{Key: "post_count", Value: bson.D{{Key: "$size", Value: bson.D{
				{Key: "$ifNull", Value: bson.A{"$posts", bson.A{}}},
			}}}},
		}}},
	}
	result, err := t.collection().UpdateMany(ctx, bson.D{}, pipeline)
	if err != nil {
		logger.Error("error reconciling tag counters in mongodb", "msg", err.Error())
		return 0, err
	}
	if result.ModifiedCount > 0 {
		logger.Info("healed drifted tag counters", "count", result.ModifiedCount)
		sn_metrics.HealedCounters.Add(float64(result.ModifiedCount))
	}
	return result.ModifiedCount, nil
}
