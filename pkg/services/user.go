package services

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/hathongthuong2k3/dev.io/pkg/model"
	"github.com/hathongthuong2k3/dev.io/pkg/storage"

	"github.com/ServiceWeaver/weaver"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/dgrijalva/jwt-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const TOKEN_TTL = 24 * time.Hour
const SUGGESTED_CONNECTIONS_LIMIT = 3

var letterRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

type UserService interface {
	RegisterUser(ctx context.Context, reqID int64, name string, username string, email string, password string) (int64, error)
	Login(ctx context.Context, reqID int64, username string, password string) (string, error)
	GetUserId(ctx context.Context, reqID int64, username string) (int64, error)
	GetProfile(ctx context.Context, reqID int64, username string) (model.User, error)
	UpdateProfile(ctx context.Context, reqID int64, userID int64, update model.ProfileUpdate) (model.User, error)
	SuggestedConnections(ctx context.Context, reqID int64, userID int64) ([]model.User, error)
}

type LoginInfo struct {
	UserID   int64  `json:"user_id"`
	Password string `json:"password"`
	Salt     string `json:"salt"`
}

// Claims is the capability gate token payload shared with the rest layer.
type Claims struct {
	Username  string `json:"username"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
	jwt.StandardClaims
}

type userService struct {
	weaver.Implements[UserService]
	weaver.WithConfig[userServiceOptions]
	uniqueIdService weaver.Ref[UniqueIdService]
	mongoClient     *mongo.Client
	redisClient     *redis.Client
	memCachedClient *memcache.Client
}

type userServiceOptions struct {
	MongoDBAddr   string `toml:"mongodb_address"`
	MongoDBPort   int    `toml:"mongodb_port"`
	RedisAddr     string `toml:"redis_address"`
	RedisPort     int    `toml:"redis_port"`
	MemCachedAddr string `toml:"memcached_address"`
	MemCachedPort int    `toml:"memcached_port"`
	JWTSecret     string `toml:"jwt_secret"`
	Region        string `toml:"region"`
}

func (u *userService) collection() *mongo.Collection {
	return u.mongoClient.Database("user").Collection("user")
}

func genRandomStr(length int) string {
	b := make([]rune, length)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}

func hashPwd(pwd []byte) string {
	hasher := sha1.New()
	hasher.Write(pwd)
	return base64.URLEncoding.EncodeToString(hasher.Sum(nil))
}

func (u *userService) Init(ctx context.Context) error {
	logger := u.Logger(ctx)

	var err error
	u.mongoClient, err = storage.MongoDBClient(ctx, u.Config().MongoDBAddr, u.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	u.redisClient = storage.RedisClient(u.Config().RedisAddr, u.Config().RedisPort)
	u.memCachedClient = storage.MemCachedClient(u.Config().MemCachedAddr, u.Config().MemCachedPort)

	_, err = u.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		logger.Error("error creating user indexes", "msg", err.Error())
		return err
	}

	logger.Info("user service running!", "region", u.Config().Region,
		"mongodb_addr", u.Config().MongoDBAddr, "mongodb_port", u.Config().MongoDBPort,
		"redis_addr", u.Config().RedisAddr, "redis_port", u.Config().RedisPort,
		"memcached_addr", u.Config().MemCachedAddr, "memcached_port", u.Config().MemCachedPort,
	)
	return nil
}

// RegisterUser creates an account. Uniqueness of username and email is
// enforced by the indexes; a duplicate key on insert surfaces as a conflict
// instead of racing a check-then-insert.
func (u *userService) RegisterUser(ctx context.Context, reqID int64, name string, username string, email string, password string) (int64, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering RegisterUser", "req_id", reqID, "username", username)

	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if name == "" || username == "" || email == "" || password == "" {
		return 0, model.InvalidInputf("name, username, email and password are required")
	}

	id, err := u.uniqueIdService.Get().NextID(ctx, reqID)
	if err != nil {
		return 0, err
	}
	salt := genRandomStr(32)
	user := model.User{
		UserID:       id,
		Name:         name,
		Username:     username,
		Email:        email,
		PwdHashed:    hashPwd([]byte(password + salt)),
		Salt:         salt,
		Headline:     "dev.io user",
		Location:     "Earth",
		Skills:       []string{},
		Connections:  []int64{},
		FollowedTags: []int64{},
		Posts:        []int64{},
		ReadingList:  []model.ReadingEntry{},
		CreatedAt:    time.Now().UnixMilli(),
	}
	_, err = u.collection().InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return 0, model.Conflictf("username or email already registered")
	}
	if err != nil {
		logger.Error("error inserting new user in mongodb", "msg", err.Error())
		return 0, err
	}
	return id, nil
}

// Login checks the credentials against the cached login info, falling back to
// mongodb, and returns a signed bearer token.
func (u *userService) Login(ctx context.Context, reqID int64, username string, password string) (string, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering Login", "req_id", reqID, "username", username)

	timestamp := time.Now().UnixMilli()
	var login LoginInfo
	result, err := u.redisClient.Get(ctx, username+":login").Bytes()
	if err != nil && err != redis.Nil {
		logger.Error("error reading user login info from cache", "msg", err.Error())
		return "", err
	} else if err == nil {
		if err := json.Unmarshal(result, &login); err != nil {
			logger.Error("error parsing login info from cache result", "msg", err.Error())
			return "", err
		}
	} else {
		var user model.User
		err := u.collection().FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&user)
		if err == mongo.ErrNoDocuments {
			return "", model.Forbiddenf("invalid credentials")
		}
		if err != nil {
			logger.Error("error finding user in mongodb", "msg", err.Error())
			return "", err
		}
		login.Password = user.PwdHashed
		login.Salt = user.Salt
		login.UserID = user.UserID
	}

	if hashPwd([]byte(password+login.Salt)) != login.Password {
		return "", model.Forbiddenf("invalid credentials")
	}

	claims := &Claims{
		Username:       username,
		UserID:         strconv.FormatInt(login.UserID, 10),
		Timestamp:      timestamp,
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(TOKEN_TTL).Unix()},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(u.Config().JWTSecret))
	if err != nil {
		logger.Error("error signing login token", "msg", err.Error())
		return "", err
	}

	loginJSON, err := json.Marshal(login)
	if err == nil {
		err = u.redisClient.Set(ctx, username+":login", loginJSON, 0).Err()
	}
	if err != nil {
		logger.Error("error writing login info to cache", "msg", err.Error())
	}
	return tokenStr, nil
}

// GetUserId attempts to read the user id from memcached and return it.
// If not found, it fetches the user from the db and writes back to the cache.
func (u *userService) GetUserId(ctx context.Context, reqID int64, username string) (int64, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering GetUserId", "req_id", reqID, "username", username)

	key := username + ":user_id"
	item, err := u.memCachedClient.Get(key)
	if err == nil {
		var userID int64
		if err := json.Unmarshal(item.Value, &userID); err == nil {
			return userID, nil
		} else {
			logger.Error("error parsing id from memcached result", "msg", err.Error())
		}
	} else if err != memcache.ErrCacheMiss {
		logger.Error("error reading user id from memcached", "msg", err.Error())
	}

	var user model.User
	err = u.collection().FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return 0, model.NotFoundf("username %s", username)
	}
	if err != nil {
		logger.Error("error finding user in mongodb", "msg", err.Error())
		return 0, err
	}

	idJSON, err := json.Marshal(user.UserID)
	if err == nil {
		err = u.memCachedClient.Set(&memcache.Item{Key: key, Value: idJSON})
	}
	if err != nil {
		logger.Error("error writing user id to memcached", "msg", err.Error())
	}
	return user.UserID, nil
}

// GetProfile returns the public profile for username. Credentials are carried
// on the record but never serialized to clients.
func (u *userService) GetProfile(ctx context.Context, reqID int64, username string) (model.User, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering GetProfile", "req_id", reqID, "username", username)

	var user model.User
	err := u.collection().FindOne(ctx, bson.D{{Key: "username", Value: username}}).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return model.User{}, model.NotFoundf("username %s", username)
	}
	if err != nil {
		logger.Error("error finding user in mongodb", "msg", err.Error())
		return model.User{}, err
	}
	user.PwdHashed = ""
	user.Salt = ""
	return user, nil
}

// UpdateProfile applies the non-empty fields of update.
func (u *userService) UpdateProfile(ctx context.Context, reqID int64, userID int64, update model.ProfileUpdate) (model.User, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering UpdateProfile", "req_id", reqID, "user_id", userID)

	set := BuildProfileSet(update)
	if len(set) == 0 {
		return model.User{}, model.InvalidInputf("no profile fields to update")
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user model.User
	err := u.collection().FindOneAndUpdate(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": set},
		opts,
	).Decode(&user)
	if err == mongo.ErrNoDocuments {
		return model.User{}, model.NotFoundf("user %d", userID)
	}
	if err != nil {
		logger.Error("error updating profile in mongodb", "msg", err.Error())
		return model.User{}, err
	}
	user.PwdHashed = ""
	user.Salt = ""
	return user, nil
}

// BuildProfileSet maps the non-empty fields of update onto a $set document.
func BuildProfileSet(update model.ProfileUpdate) bson.M {
	set := bson.M{}
	if update.Name != "" {
		set["name"] = update.Name
	}
	if update.Headline != "" {
		set["headline"] = update.Headline
	}
	if update.Location != "" {
		set["location"] = update.Location
	}
	if update.About != "" {
		set["about"] = update.About
	}
	if update.ProfilePicture != "" {
		set["profile_picture"] = update.ProfilePicture
	}
	if update.Skills != nil {
		set["skills"] = update.Skills
	}
	return set
}

// SuggestedConnections returns a bounded set of users excluding the requester
// and everyone they are already connected to.
func (u *userService) SuggestedConnections(ctx context.Context, reqID int64, userID int64) ([]model.User, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering SuggestedConnections", "req_id", reqID, "user_id", userID)

	var current model.User
	copts := options.FindOne().SetProjection(bson.D{{Key: "connections", Value: 1}})
	err := u.collection().FindOne(ctx, bson.D{{Key: "user_id", Value: userID}}, copts).Decode(&current)
	if err == mongo.ErrNoDocuments {
		return nil, model.NotFoundf("user %d", userID)
	}
	if err != nil {
		logger.Error("error reading user from mongodb", "msg", err.Error())
		return nil, err
	}

	filter := bson.M{
		"user_id": bson.M{
			"$ne":  userID,
			"$nin": current.Connections,
		},
	}
	opts := options.Find().
		SetLimit(SUGGESTED_CONNECTIONS_LIMIT).
		SetProjection(bson.D{
			{Key: "user_id", Value: 1},
			{Key: "name", Value: 1},
			{Key: "username", Value: 1},
			{Key: "profile_picture", Value: 1},
			{Key: "headline", Value: 1},
		})
	cur, err := u.collection().Find(ctx, filter, opts)
	if err != nil {
		logger.Error("error reading suggestions from mongodb", "msg", err.Error())
		return nil, err
	}
	var suggestions []model.User
	if err := cur.All(ctx, &suggestions); err != nil {
		logger.Error("error parsing suggestions from mongodb result", "msg", err.Error())
		return nil, err
	}
	return suggestions, nil
}
