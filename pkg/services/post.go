package services

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	sn_metrics "github.com/hathongthuong2k3/dev.io/pkg/metrics"
	"github.com/hathongthuong2k3/dev.io/pkg/model"
	"github.com/hathongthuong2k3/dev.io/pkg/storage"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type PostService interface {
	CreatePost(ctx context.Context, reqID int64, authorID int64, content string, image string, tagNames []string) (model.Post, error)
	UpdatePost(ctx context.Context, reqID int64, postID int64, actorID int64, update model.PostUpdate) error
	DeletePost(ctx context.Context, reqID int64, postID int64, actorID int64) error
	GetPost(ctx context.Context, reqID int64, postID int64) (model.Post, error)
	ToggleLike(ctx context.Context, reqID int64, postID int64, userID int64) (model.Post, error)
	AddComment(ctx context.Context, reqID int64, postID int64, userID int64, content string) (model.Post, error)
	Feed(ctx context.Context, reqID int64, viewerID int64) ([]model.Post, error)
	PostsByTag(ctx context.Context, reqID int64, tagID int64) ([]model.Post, error)
	PostsByAuthor(ctx context.Context, reqID int64, authorID int64) ([]model.Post, error)
}

var _ weaver.NotRetriable = PostService.CreatePost
var _ weaver.NotRetriable = PostService.ToggleLike

type postService struct {
	weaver.Implements[PostService]
	weaver.WithConfig[postServiceOptions]
	tagRegistryService  weaver.Ref[TagRegistryService]
	notificationService weaver.Ref[NotificationService]
	mediaService        weaver.Ref[MediaService]
	uniqueIdService     weaver.Ref[UniqueIdService]
	mongoClient         *mongo.Client
	redisClient         *redis.Client
}

type postServiceOptions struct {
	MongoDBAddr string `toml:"mongodb_address"`
	MongoDBPort int    `toml:"mongodb_port"`
	RedisAddr   string `toml:"redis_address"`
	RedisPort   int    `toml:"redis_port"`
	Region      string `toml:"region"`
}

func (p *postService) collection() *mongo.Collection {
	return p.mongoClient.Database("poststorage").Collection("posts")
}

func (p *postService) userCollection() *mongo.Collection {
	return p.mongoClient.Database("user").Collection("user")
}

func (p *postService) Init(ctx context.Context) error {
	logger := p.Logger(ctx)

	var err error
	p.mongoClient, err = storage.MongoDBClient(ctx, p.Config().MongoDBAddr, p.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	p.redisClient = storage.RedisClient(p.Config().RedisAddr, p.Config().RedisPort)

	_, err = p.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "post_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "author", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
	})
	if err != nil {
		logger.Error("error creating post indexes", "msg", err.Error())
		return err
	}

	logger.Info("post service running!", "region", p.Config().Region,
		"mongodb_addr", p.Config().MongoDBAddr, "mongodb_port", p.Config().MongoDBPort,
		"redis_addr", p.Config().RedisAddr, "redis_port", p.Config().RedisPort,
	)
	return nil
}

func postCacheKey(postID int64) string {
	return "post:" + strconv.FormatInt(postID, 10)
}

// unlikeDocs builds the unlike half of a toggle. The membership requirement in
// the filter means the pull modifies nothing when the user never liked.
func unlikeDocs(postID int64, userID int64) (bson.M, bson.M) {
	filter := bson.M{"post_id": postID, "likes": userID}
	return filter, bson.M{"$pull": bson.M{"likes": userID}}
}

// likeDocs builds the like half. The filters of the two halves are mutually
// exclusive for a given likes set, so one toggle moves the set by exactly one
// transition and applying the toggle twice restores it.
func likeDocs(postID int64, userID int64) (bson.M, bson.M) {
	filter := bson.M{"post_id": postID, "likes": bson.M{"$ne": userID}}
	return filter, bson.M{"$push": bson.M{"likes": userID}}
}

// commentPush appends the comment in a single update document so concurrent
// commenters interleave instead of overwriting each other.
func commentPush(comment model.Comment) bson.M {
	return bson.M{"$push": bson.M{"comments": comment}}
}

func (p *postService) cachePost(ctx context.Context, post model.Post) {
	logger := p.Logger(ctx)
	postJSON, err := json.Marshal(post)
	if err != nil {
		logger.Error("error converting post to json", "post_id", post.PostID)
		return
	}
	if err := p.redisClient.Set(ctx, postCacheKey(post.PostID), postJSON, 0).Err(); err != nil {
		logger.Error("error writing post to cache", "msg", err.Error())
	}
}

func (p *postService) dropCachedPost(ctx context.Context, postID int64) {
	if err := p.redisClient.Del(ctx, postCacheKey(postID)).Err(); err != nil {
		p.Logger(ctx).Error("error dropping post from cache", "msg", err.Error())
	}
}

// CreatePost persists a new post, then resolves and attaches its tags. The
// image payload, when present, is pushed to the media store before anything is
// written so an upload failure leaves no partial state behind. A failure during
// tag attachment leaves a persisted post with fewer tags; the registry guards
// make the retry safe.
func (p *postService) CreatePost(ctx context.Context, reqID int64, authorID int64, content string, image string, tagNames []string) (model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering CreatePost", "req_id", reqID, "author", authorID, "tags", tagNames)

	if strings.TrimSpace(content) == "" && image == "" {
		return model.Post{}, model.InvalidInputf("post needs content or an image")
	}

	var imageURL string
	if image != "" {
		var err error
		imageURL, err = p.mediaService.Get().Upload(ctx, reqID, image)
		if err != nil {
			logger.Error("error uploading post image", "msg", err.Error())
			return model.Post{}, err
		}
	}

	postID, err := p.uniqueIdService.Get().NextID(ctx, reqID)
	if err != nil {
		return model.Post{}, err
	}
	post := model.Post{
		PostID:    postID,
		Author:    authorID,
		Content:   content,
		Image:     imageURL,
		Tags:      []int64{},
		Likes:     []int64{},
		Comments:  []model.Comment{},
		CreatedAt: time.Now().UnixMilli(),
	}
	if _, err := p.collection().InsertOne(ctx, post); err != nil {
		logger.Error("error writing post", "msg", err.Error())
		return model.Post{}, err
	}
	sn_metrics.CreatedPosts.Inc()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("post_id", postID))

	_, err = p.userCollection().UpdateOne(ctx,
		bson.M{"user_id": authorID},
		bson.M{"$push": bson.M{"posts": postID}},
	)
	if err != nil {
		logger.Error("error recording post on author in mongodb", "msg", err.Error())
		return model.Post{}, err
	}

	if len(tagNames) > 0 {
		tags, err := p.tagRegistryService.Get().ResolveOrCreate(ctx, reqID, tagNames)
		if err != nil {
			logger.Error("error resolving tags for post", "msg", err.Error())
			return model.Post{}, err
		}
		tagIDs := make([]int64, 0, len(tags))
		for _, tag := range tags {
			if err := p.tagRegistryService.Get().AttachPost(ctx, reqID, tag.TagID, postID); err != nil {
				logger.Error("error attaching post to tag", "tag_id", tag.TagID, "msg", err.Error())
				return model.Post{}, err
			}
			tagIDs = append(tagIDs, tag.TagID)
		}
		post.Tags = tagIDs
		_, err = p.collection().UpdateOne(ctx,
			bson.M{"post_id": postID},
			bson.M{"$set": bson.M{"tags": tagIDs}},
		)
		if err != nil {
			logger.Error("error writing tag list on post", "msg", err.Error())
			return model.Post{}, err
		}
	}

	p.cachePost(ctx, post)
	return post, nil
}

// UpdatePost edits content, image and tags of an owned post. A replaced image
// is removed from the media store first; if that removal fails the update is
// aborted rather than leaving a stale reference behind.
func (p *postService) UpdatePost(ctx context.Context, reqID int64, postID int64, actorID int64, update model.PostUpdate) error {
	logger := p.Logger(ctx)
	logger.Debug("entering UpdatePost", "req_id", reqID, "post_id", postID, "actor", actorID)

	post, err := p.findPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.Author != actorID {
		return model.Forbiddenf("user %d is not the author of post %d", actorID, postID)
	}

	set := bson.M{}
	if update.Content != "" {
		set["content"] = update.Content
	}
	if update.Image != "" {
		if post.Image != "" {
			if err := p.mediaService.Get().Delete(ctx, reqID, post.Image); err != nil {
				logger.Error("error deleting replaced post image", "msg", err.Error())
				return err
			}
		}
		imageURL, err := p.mediaService.Get().Upload(ctx, reqID, update.Image)
		if err != nil {
			logger.Error("error uploading replacement post image", "msg", err.Error())
			return err
		}
		set["image"] = imageURL
	}

	if update.Tags != nil {
		tagIDs, err := p.retagPost(ctx, reqID, post, update.Tags)
		if err != nil {
			return err
		}
		set["tags"] = tagIDs
	}

	if len(set) > 0 {
		_, err = p.collection().UpdateOne(ctx, bson.M{"post_id": postID}, bson.M{"$set": set})
		if err != nil {
			logger.Error("error updating post in mongodb", "msg", err.Error())
			return err
		}
	}
	p.dropCachedPost(ctx, postID)
	return nil
}

// retagPost resolves the new tag name list and applies the attach/detach delta
// against the registry so the per-tag counters keep tracking the sets.
func (p *postService) retagPost(ctx context.Context, reqID int64, post model.Post, tagNames []string) ([]int64, error) {
	logger := p.Logger(ctx)

	tags, err := p.tagRegistryService.Get().ResolveOrCreate(ctx, reqID, tagNames)
	if err != nil {
		logger.Error("error resolving tags for post update", "msg", err.Error())
		return nil, err
	}
	next := make(map[int64]bool, len(tags))
	tagIDs := make([]int64, 0, len(tags))
	for _, tag := range tags {
		next[tag.TagID] = true
		tagIDs = append(tagIDs, tag.TagID)
	}
	previous := make(map[int64]bool, len(post.Tags))
	for _, tagID := range post.Tags {
		previous[tagID] = true
	}

	for _, tagID := range post.Tags {
		if !next[tagID] {
			if err := p.tagRegistryService.Get().DetachPost(ctx, reqID, tagID, post.PostID); err != nil {
				logger.Error("error detaching post from tag", "tag_id", tagID, "msg", err.Error())
				return nil, err
			}
		}
	}
	for _, tagID := range tagIDs {
		if !previous[tagID] {
			if err := p.tagRegistryService.Get().AttachPost(ctx, reqID, tagID, post.PostID); err != nil {
				logger.Error("error attaching post to tag", "tag_id", tagID, "msg", err.Error())
				return nil, err
			}
		}
	}
	return tagIDs, nil
}

// DeletePost removes an owned post and cascades: the stored image, the post id
// on every tag (with its counter), the author's post list and every reading
// list entry referencing the post.
func (p *postService) DeletePost(ctx context.Context, reqID int64, postID int64, actorID int64) error {
	logger := p.Logger(ctx)
	logger.Debug("entering DeletePost", "req_id", reqID, "post_id", postID, "actor", actorID)

	post, err := p.findPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.Author != actorID {
		return model.Forbiddenf("user %d is not the author of post %d", actorID, postID)
	}

	if post.Image != "" {
		if err := p.mediaService.Get().Delete(ctx, reqID, post.Image); err != nil {
			logger.Error("error deleting post image", "msg", err.Error())
			return err
		}
	}

	if _, err := p.collection().DeleteOne(ctx, bson.M{"post_id": postID}); err != nil {
		logger.Error("error deleting post in mongodb", "msg", err.Error())
		return err
	}
	sn_metrics.DeletedPosts.Inc()

	for _, tagID := range post.Tags {
		if err := p.tagRegistryService.Get().DetachPost(ctx, reqID, tagID, postID); err != nil {
			logger.Error("error detaching deleted post from tag", "tag_id", tagID, "msg", err.Error())
			return err
		}
	}
	_, err = p.userCollection().UpdateOne(ctx,
		bson.M{"user_id": actorID},
		bson.M{"$pull": bson.M{"posts": postID}},
	)
	if err != nil {
		logger.Error("error removing post from author in mongodb", "msg", err.Error())
		return err
	}
	_, err = p.userCollection().UpdateMany(ctx,
		bson.M{"reading_list.post_id": postID},
		bson.M{"$pull": bson.M{"reading_list": bson.M{"post_id": postID}}},
	)
	if err != nil {
		logger.Error("error removing post from reading lists in mongodb", "msg", err.Error())
		return err
	}

	p.dropCachedPost(ctx, postID)
	return nil
}

func (p *postService) findPost(ctx context.Context, postID int64) (model.Post, error) {
	var post model.Post
	err := p.collection().FindOne(ctx, bson.D{{Key: "post_id", Value: postID}}).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return model.Post{}, model.NotFoundf("post %d", postID)
	}
	if err != nil {
		p.Logger(ctx).Error("error reading post from mongodb", "msg", err.Error())
		return model.Post{}, err
	}
	return post, nil
}

// GetPost reads through the redis cache, falling back to mongodb and
// refreshing the cache on a miss.
func (p *postService) GetPost(ctx context.Context, reqID int64, postID int64) (model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering GetPost", "req_id", reqID, "post_id", postID)

	cached, err := p.redisClient.Get(ctx, postCacheKey(postID)).Bytes()
	if err != nil && err != redis.Nil {
		logger.Error("error reading post from cache", "msg", err.Error())
	} else if err == nil {
		var post model.Post
		if err := json.Unmarshal(cached, &post); err == nil {
			return post, nil
		} else {
			logger.Error("error parsing post from cache result", "msg", err.Error())
		}
	}

	post, err := p.findPost(ctx, postID)
	if err != nil {
		return model.Post{}, err
	}
	p.cachePost(ctx, post)
	return post, nil
}

// ToggleLike flips userID's membership in the post's like set. Applying it
// twice returns the set to its original state. Only a transition into the set
// by someone other than the author fans out a notification.
func (p *postService) ToggleLike(ctx context.Context, reqID int64, postID int64, userID int64) (model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering ToggleLike", "req_id", reqID, "post_id", postID, "user_id", userID)

	// unlike path: pull succeeds only when the user is currently in the set
	unlikeFilter, unlikeUpdate := unlikeDocs(postID, userID)
	result, err := p.collection().UpdateOne(ctx, unlikeFilter, unlikeUpdate)
	if err != nil {
		logger.Error("error updating post likes in mongodb", "msg", err.Error())
		return model.Post{}, err
	}
	liked := false
	if result.ModifiedCount == 0 {
		// like path, guarded so a concurrent duplicate cannot double-add
		likeFilter, likeUpdate := likeDocs(postID, userID)
		result, err = p.collection().UpdateOne(ctx, likeFilter, likeUpdate)
		if err != nil {
			logger.Error("error updating post likes in mongodb", "msg", err.Error())
			return model.Post{}, err
		}
		liked = result.ModifiedCount == 1
	}

	post, err := p.findPost(ctx, postID)
	if err != nil {
		return model.Post{}, err
	}
	if liked && post.Author != userID {
		err = p.notificationService.Get().Notify(ctx, reqID, post.Author, model.NotificationLike, userID, postID, "")
		if err != nil {
			logger.Error("error creating like notification", "msg", err.Error())
			return model.Post{}, err
		}
	}
	p.cachePost(ctx, post)
	return post, nil
}

// AddComment appends the comment atomically so concurrent commenters cannot
// lose writes, then fans out to the author when somebody else commented.
func (p *postService) AddComment(ctx context.Context, reqID int64, postID int64, userID int64, content string) (model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering AddComment", "req_id", reqID, "post_id", postID, "user_id", userID)

	if strings.TrimSpace(content) == "" {
		return model.Post{}, model.InvalidInputf("comment content is required")
	}

	comment := model.Comment{
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var post model.Post
	err := p.collection().FindOneAndUpdate(ctx,
		bson.M{"post_id": postID},
		commentPush(comment),
		opts,
	).Decode(&post)
	if err == mongo.ErrNoDocuments {
		return model.Post{}, model.NotFoundf("post %d", postID)
	}
	if err != nil {
		logger.Error("error appending comment in mongodb", "msg", err.Error())
		return model.Post{}, err
	}

	if post.Author != userID {
		err = p.notificationService.Get().Notify(ctx, reqID, post.Author, model.NotificationComment, userID, postID, content)
		if err != nil {
			logger.Error("error creating comment notification", "msg", err.Error())
			return model.Post{}, err
		}
	}
	p.cachePost(ctx, post)
	return post, nil
}

// Feed returns the posts authored by the viewer and their connections, newest
// first. Posts created in the same millisecond keep arrival order through the
// monotonic post id.
func (p *postService) Feed(ctx context.Context, reqID int64, viewerID int64) ([]model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering Feed", "req_id", reqID, "viewer", viewerID)

	var viewer model.User
	err := p.userCollection().FindOne(ctx, bson.D{{Key: "user_id", Value: viewerID}}).Decode(&viewer)
	if err == mongo.ErrNoDocuments {
		return nil, model.NotFoundf("user %d", viewerID)
	}
	if err != nil {
		logger.Error("error reading viewer from mongodb", "msg", err.Error())
		return nil, err
	}

	authors := append([]int64{viewerID}, viewer.Connections...)
	filter := bson.D{{Key: "author", Value: bson.D{{Key: "$in", Value: authors}}}}
	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "post_id", Value: 1},
	})
	cur, err := p.collection().Find(ctx, filter, opts)
	if err != nil {
		logger.Error("error reading feed posts from mongodb", "msg", err.Error())
		return nil, err
	}
	var posts []model.Post
	if err := cur.All(ctx, &posts); err != nil {
		logger.Error("error parsing feed posts from mongodb result", "msg", err.Error())
		return nil, err
	}
	return posts, nil
}

func (p *postService) PostsByTag(ctx context.Context, reqID int64, tagID int64) ([]model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering PostsByTag", "req_id", reqID, "tag_id", tagID)

	if _, err := p.tagRegistryService.Get().GetTag(ctx, reqID, tagID); err != nil {
		return nil, err
	}
	cur, err := p.collection().Find(ctx, bson.D{{Key: "tags", Value: tagID}})
	if err != nil {
		logger.Error("error reading tag posts from mongodb", "msg", err.Error())
		return nil, err
	}
	var posts []model.Post
	if err := cur.All(ctx, &posts); err != nil {
		logger.Error("error parsing tag posts from mongodb result", "msg", err.Error())
		return nil, err
	}
	return posts, nil
}

func (p *postService) PostsByAuthor(ctx context.Context, reqID int64, authorID int64) ([]model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering PostsByAuthor", "req_id", reqID, "author", authorID)

	cur, err := p.collection().Find(ctx, bson.D{{Key: "author", Value: authorID}})
	if err != nil {
		logger.Error("error reading author posts from mongodb", "msg", err.Error())
		return nil, err
	}
	var posts []model.Post
	if err := cur.All(ctx, &posts); err != nil {
		logger.Error("error parsing author posts from mongodb result", "msg", err.Error())
		return nil, err
	}
	return posts, nil
}
