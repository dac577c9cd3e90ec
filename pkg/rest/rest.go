package rest

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"

	"github.com/hathongthuong2k3/dev.io/pkg/model"
	"github.com/hathongthuong2k3/dev.io/pkg/services"

	"github.com/ServiceWeaver/weaver"
	"github.com/dgrijalva/jwt-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type server struct {
	weaver.Implements[weaver.Main]
	weaver.WithConfig[serverOptions]
	userService        weaver.Ref[services.UserService]
	postService        weaver.Ref[services.PostService]
	tagRegistryService weaver.Ref[services.TagRegistryService]
	readingListService weaver.Ref[services.ReadingListService]
	notifyService      weaver.Ref[services.NotificationService]
	_                  weaver.Ref[services.MailerService]
	lis                weaver.Listener `weaver:"rest"`
}

type serverOptions struct {
	JWTSecret string `toml:"jwt_secret"`
	Region    string `toml:"region"`
}

func Serve(ctx context.Context, s *server) error {
	mux := http.NewServeMux()

	// public surface
	mux.Handle("POST /auth/register", instrument("register", s.registerHandler))
	mux.Handle("POST /auth/login", instrument("login", s.loginHandler))
	mux.Handle("GET /tags/search", instrument("tag_search", s.searchTagsHandler))
	mux.Handle("GET /tags/popular", instrument("tag_popular", s.popularTagsHandler))
	mux.Handle("GET /tags/{tagId}", instrument("tag_get", s.getTagHandler))
	mux.Handle("GET /tags/{tagId}/posts", instrument("tag_posts", s.postsByTagHandler))

	// capability gated surface
	mux.Handle("GET /posts", instrument("feed", s.authed(s.feedHandler)))
	mux.Handle("GET /posts/{id}", instrument("post_get", s.authed(s.getPostHandler)))
	mux.Handle("GET /posts/user/{id}", instrument("post_by_user", s.authed(s.postsByAuthorHandler)))
	mux.Handle("POST /posts/create", instrument("post_create", s.authed(s.createPostHandler)))
	mux.Handle("PUT /posts/update/{id}", instrument("post_update", s.authed(s.updatePostHandler)))
	mux.Handle("DELETE /posts/delete/{id}", instrument("post_delete", s.authed(s.deletePostHandler)))
	mux.Handle("POST /posts/{id}/like", instrument("post_like", s.authed(s.likePostHandler)))
	mux.Handle("POST /posts/{id}/comment", instrument("post_comment", s.authed(s.commentPostHandler)))

	mux.Handle("POST /tags/create", instrument("tag_create", s.authed(s.createTagHandler)))
	mux.Handle("POST /tags/{tagId}/follow", instrument("tag_follow", s.authed(s.followTagHandler)))
	mux.Handle("POST /tags/{tagId}/unfollow", instrument("tag_unfollow", s.authed(s.unfollowTagHandler)))
	mux.Handle("POST /tags/reconcile", instrument("tag_reconcile", s.authed(s.reconcileTagsHandler)))

	mux.Handle("GET /reading-list", instrument("reading_list", s.authed(s.readingListHandler)))
	mux.Handle("POST /reading-list/{postId}", instrument("reading_list_add", s.authed(s.addReadingHandler)))
	mux.Handle("DELETE /reading-list/{postId}", instrument("reading_list_remove", s.authed(s.removeReadingHandler)))
	mux.Handle("PATCH /reading-list/status/{postId}", instrument("reading_list_status", s.authed(s.readingStatusHandler)))

	mux.Handle("GET /users/suggestions", instrument("user_suggestions", s.authed(s.suggestionsHandler)))
	mux.Handle("GET /users/{username}", instrument("user_profile", s.authed(s.profileHandler)))
	mux.Handle("PUT /users/profile", instrument("user_update", s.authed(s.updateProfileHandler)))

	mux.Handle("GET /notifications", instrument("notifications", s.authed(s.notificationsHandler)))
	mux.Handle("PUT /notifications/{id}/read", instrument("notification_read", s.authed(s.readNotificationHandler)))
	mux.Handle("DELETE /notifications/{id}", instrument("notification_delete", s.authed(s.deleteNotificationHandler)))

	var handler http.Handler = mux
	s.Logger(ctx).Info("rest api available", "addr", s.lis, "region", s.Config().Region)
	return http.Serve(s.lis, handler)
}

func instrument(label string, fn func(http.ResponseWriter, *http.Request)) http.Handler {
	return weaver.InstrumentHandlerFunc(label, fn)
}

// HTTPStatus maps the service error taxonomy onto response codes. Anything
// outside the taxonomy collapses to a generic 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// credentialRejection distinguishes a bad username or password from an
// infrastructure failure.
func credentialRejection(err error) bool {
	return errors.Is(err, model.ErrForbidden)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return "", model.Forbiddenf("missing bearer token")
	}
	return header[len(prefix):], nil
}

// ParseUserID validates a signed token and returns the authenticated user id.
func ParseUserID(tokenStr string, secret string) (int64, error) {
	claims := &services.Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, model.Forbiddenf("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, model.Forbiddenf("invalid token")
	}
	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		return 0, model.Forbiddenf("invalid token subject")
	}
	return userID, nil
}

// authed is the capability gate: it resolves the bearer token to a user id or
// rejects the request with 401 before the handler runs.
func (s *server) authed(fn func(http.ResponseWriter, *http.Request, int64)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr, err := BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID, err := ParseUserID(tokenStr, s.Config().JWTSecret)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "authentication required")
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.Int64("user_id", userID))
		fn(w, r, userID)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func (s *server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		// internal detail never leaks to clients
		s.Logger(ctx).Error("request failed", "msg", err.Error())
		writeMessage(w, status, "server error")
		return
	}
	writeMessage(w, status, err.Error())
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, model.InvalidInputf("invalid %s", name)
	}
	return id, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.InvalidInputf("malformed request body")
	}
	return nil
}

func newReqID() int64 {
	return rand.Int63()
}

// --- auth

func (s *server) registerHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Name     string `json:"name"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	userID, err := s.userService.Get().RegisterUser(ctx, newReqID(), body.Name, body.Username, body.Email, body.Password)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"user_id": userID})
}

func (s *server) loginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	token, err := s.userService.Get().Login(ctx, newReqID(), body.Username, body.Password)
	if err != nil {
		// credential rejections are reported uniformly, everything else keeps
		// its taxonomy status so an outage does not read as a wrong password
		if credentialRejection(err) {
			writeMessage(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// --- posts

func (s *server) feedHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	posts, err := s.postService.Get().Feed(ctx, newReqID(), userID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *server) getPostHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	postID, err := pathID(r, "id")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	post, err := s.postService.Get().GetPost(ctx, newReqID(), postID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *server) postsByAuthorHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	authorID, err := pathID(r, "id")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	posts, err := s.postService.Get().PostsByAuthor(ctx, newReqID(), authorID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *server) createPostHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	var body struct {
		Content string   `json:"content"`
		Image   string   `json:"image"`
		Tags    []string `json:"tags"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	post, err := s.postService.Get().CreatePost(ctx, newReqID(), userID, body.Content, body.Image, body.Tags)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *server) updatePostHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	postID, err := pathID(r, "id")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	var body model.PostUpdate
	if err := decodeBody(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.postService.Get().UpdatePost(ctx, newReqID(), postID, userID, body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "post updated")
}

func (s *server) deletePostHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	postID, err := pathID(r, "id")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.postService.Get().DeletePost(ctx, newReqID(), postID, userID); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "post deleted successfully")
}

func (s *server) likePostHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	postID, err := pathID(r, "id")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	post, err := s.postService.Get().ToggleLike(ctx, newReqID(), postID, userID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *server) commentPostHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	postID, err := pathID(r, "id")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	post, err := s.postService.Get().AddComment(ctx, newReqID(), postID, userID, body.Content)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// --- tags

func (s *server) createTagHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	tag, created, err := s.tagRegistryService.Get().CreateTag(ctx, newReqID(), body.Name, body.Description)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, tag)
}

func (s *server) searchTagsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tags, err := s.tagRegistryService.Get().Search(ctx, newReqID(), r.URL.Query().Get("query"), 0)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *server) popularTagsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tags, err := s.tagRegistryService.Get().Popular(ctx, newReqID(), 0)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *server) getTagHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tagID, err := pathID(r, "tagId")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	tag, err := s.tagRegistryService.Get().GetTag(ctx, newReqID(), tagID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, tag)
}

func (s *server) postsByTagHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tagID, err := pathID(r, "tagId")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	posts, err := s.postService.Get().PostsByTag(ctx, newReqID(), tagID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *server) followTagHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	tagID, err := pathID(r, "tagId")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.tagRegistryService.Get().Follow(ctx, newReqID(), tagID, userID); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "successfully followed tag")
}

func (s *server) unfollowTagHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	tagID, err := pathID(r, "tagId")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.tagRegistryService.Get().Unfollow(ctx, newReqID(), tagID, userID); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "successfully unfollowed tag")
}

func (s *server) reconcileTagsHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	healed, err := s.tagRegistryService.Get().ReconcileCounters(ctx, newReqID())
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"healed": healed})
}

// --- reading list

func (s *server) readingListHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	entries, err := s.readingListService.Get().List(ctx, newReqID(), userID, r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) addReadingHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	postID, err := pathID(r, "postId")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.readingListService.Get().Add(ctx, newReqID(), userID, postID); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "added to reading list")
}

func (s *server) removeReadingHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	postID, err := pathID(r, "postId")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.readingListService.Get().Remove(ctx, newReqID(), userID, postID); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "removed from reading list")
}

func (s *server) readingStatusHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	postID, err := pathID(r, "postId")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.readingListService.Get().UpdateStatus(ctx, newReqID(), userID, postID, body.Status); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "reading status updated")
}

// --- users

func (s *server) suggestionsHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	users, err := s.userService.Get().SuggestedConnections(ctx, newReqID(), userID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *server) profileHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	user, err := s.userService.Get().GetProfile(ctx, newReqID(), r.PathValue("username"))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *server) updateProfileHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	var body model.ProfileUpdate
	if err := decodeBody(r, &body); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	user, err := s.userService.Get().UpdateProfile(ctx, newReqID(), userID, body)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- notifications

func (s *server) notificationsHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	notifications, err := s.notifyService.Get().ListByRecipient(ctx, newReqID(), userID)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (s *server) readNotificationHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	notificationID, err := pathID(r, "id")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.notifyService.Get().MarkRead(ctx, newReqID(), notificationID, userID); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "notification marked as read")
}

func (s *server) deleteNotificationHandler(w http.ResponseWriter, r *http.Request, userID int64) {
	ctx := r.Context()
	notificationID, err := pathID(r, "id")
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.notifyService.Get().DeleteNotification(ctx, newReqID(), notificationID, userID); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeMessage(w, http.StatusOK, "notification deleted")
}
