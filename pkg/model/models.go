package model

import "github.com/ServiceWeaver/weaver"

// reading list statuses
const (
	StatusUnread    = "unread"
	StatusReading   = "reading"
	StatusCompleted = "completed"
)

// notification types
const (
	NotificationLike    = "like"
	NotificationComment = "comment"
)

// ValidReadingStatus reports whether s is one of the allowed reading list statuses.
func ValidReadingStatus(s string) bool {
	return s == StatusUnread || s == StatusReading || s == StatusCompleted
}

type ReadingEntry struct {
	weaver.AutoMarshal
	PostID  int64  `bson:"post_id" json:"post_id"`
	Status  string `bson:"status" json:"status"`
	AddedAt int64  `bson:"added_at" json:"added_at"`
}

type User struct {
	// make user serializable
	// by default, struct literal types are not serializable
	weaver.AutoMarshal
	UserID         int64          `bson:"user_id" json:"user_id"`
	Name           string         `bson:"name" json:"name"`
	Username       string         `bson:"username" json:"username"`
	Email          string         `bson:"email" json:"email"`
	PwdHashed      string         `bson:"pwd_hashed" json:"-"`
	Salt           string         `bson:"salt" json:"-"`
	ProfilePicture string         `bson:"profile_picture" json:"profile_picture"`
	Headline       string         `bson:"headline" json:"headline"`
	Location       string         `bson:"location" json:"location"`
	About          string         `bson:"about" json:"about"`
	Skills         []string       `bson:"skills" json:"skills"`
	Connections    []int64        `bson:"connections" json:"connections"`
	FollowedTags   []int64        `bson:"followed_tags" json:"followed_tags"`
	Posts          []int64        `bson:"posts" json:"posts"`
	ReadingList    []ReadingEntry `bson:"reading_list" json:"reading_list"`
	CreatedAt      int64          `bson:"created_at" json:"created_at"`
}

type Comment struct {
	weaver.AutoMarshal
	UserID    int64  `bson:"user_id" json:"user_id"`
	Content   string `bson:"content" json:"content"`
	CreatedAt int64  `bson:"created_at" json:"created_at"`
}

type Post struct {
	weaver.AutoMarshal
	PostID    int64     `bson:"post_id" json:"post_id"`
	Author    int64     `bson:"author" json:"author"`
	Content   string    `bson:"content" json:"content"`
	Image     string    `bson:"image" json:"image"`
	Tags      []int64   `bson:"tags" json:"tags"`
	Likes     []int64   `bson:"likes" json:"likes"`
	Comments  []Comment `bson:"comments" json:"comments"`
	CreatedAt int64     `bson:"created_at" json:"created_at"`
}

type Tag struct {
	weaver.AutoMarshal
	TagID         int64   `bson:"tag_id" json:"tag_id"`
	Name          string  `bson:"name" json:"name"`
	Description   string  `bson:"description" json:"description"`
	Followers     []int64 `bson:"followers" json:"followers"`
	Posts         []int64 `bson:"posts" json:"posts"`
	FollowerCount int64   `bson:"follower_count" json:"follower_count"`
	PostCount     int64   `bson:"post_count" json:"post_count"`
	CreatedAt     int64   `bson:"created_at" json:"created_at"`
}

type Notification struct {
	weaver.AutoMarshal
	NotificationID int64  `bson:"notification_id" json:"notification_id"`
	Recipient      int64  `bson:"recipient" json:"recipient"`
	Type           string `bson:"type" json:"type"`
	RelatedUser    int64  `bson:"related_user" json:"related_user"`
	RelatedPost    int64  `bson:"related_post" json:"related_post"`
	Read           bool   `bson:"read" json:"read"`
	CreatedAt      int64  `bson:"created_at" json:"created_at"`
}

// PostUpdate carries the fields of a post edit. Empty fields are left untouched;
// Tags is applied only when non-nil so an edit can clear all tags with an empty list.
type PostUpdate struct {
	weaver.AutoMarshal
	Content string   `json:"content"`
	Image   string   `json:"image"`
	Tags    []string `json:"tags"`
}

// ProfileUpdate carries the mutable profile fields. Empty fields are left untouched.
type ProfileUpdate struct {
	weaver.AutoMarshal
	Name           string   `json:"name"`
	Headline       string   `json:"headline"`
	Location       string   `json:"location"`
	About          string   `json:"about"`
	ProfilePicture string   `json:"profile_picture"`
	Skills         []string `json:"skills"`
}
