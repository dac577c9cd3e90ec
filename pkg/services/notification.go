package services

import (
	"context"
	"encoding/json"
	"time"

	sn_metrics "github.com/hathongthuong2k3/dev.io/pkg/metrics"
	"github.com/hathongthuong2k3/dev.io/pkg/model"
	"github.com/hathongthuong2k3/dev.io/pkg/storage"
	sn_trace "github.com/hathongthuong2k3/dev.io/pkg/trace"

	"github.com/ServiceWeaver/weaver"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const NOTIFY_EMAIL_EXCHANGE = "notify-email"

type NotificationService interface {
	Notify(ctx context.Context, reqID int64, recipientID int64, ntype string, actorID int64, postID int64, commentText string) error
	ListByRecipient(ctx context.Context, reqID int64, recipientID int64) ([]model.Notification, error)
	MarkRead(ctx context.Context, reqID int64, notificationID int64, recipientID int64) error
	DeleteNotification(ctx context.Context, reqID int64, notificationID int64, recipientID int64) error
}

var _ weaver.NotRetriable = NotificationService.Notify

type notificationService struct {
	weaver.Implements[NotificationService]
	weaver.WithConfig[notificationServiceOptions]
	uniqueIdService weaver.Ref[UniqueIdService]
	_               weaver.Ref[MailerService]
	mongoClient     *mongo.Client
	amqChannel      *amqp.Channel
	amqConnection   *amqp.Connection
}

type notificationServiceOptions struct {
	MongoDBAddr      string `toml:"mongodb_address"`
	MongoDBPort      int    `toml:"mongodb_port"`
	RabbitMQAddr     string `toml:"rabbitmq_address"`
	RabbitMQPort     int    `toml:"rabbitmq_port"`
	RabbitMQUsername string `toml:"rabbitmq_username"`
	RabbitMQPassword string `toml:"rabbitmq_password"`
	Region           string `toml:"region"`
}

func (n *notificationService) collection() *mongo.Collection {
	return n.mongoClient.Database("notification").Collection("notification")
}

func (n *notificationService) Init(ctx context.Context) error {
	logger := n.Logger(ctx)

	var err error
	n.mongoClient, err = storage.MongoDBClient(ctx, n.Config().MongoDBAddr, n.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	n.amqChannel, n.amqConnection, err = storage.RabbitMQClient(ctx,
		n.Config().RabbitMQUsername, n.Config().RabbitMQPassword,
		n.Config().RabbitMQAddr, n.Config().RabbitMQPort,
	)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	err = n.amqChannel.ExchangeDeclare(NOTIFY_EMAIL_EXCHANGE, "topic", false, false, false, false, nil)
	if err != nil {
		logger.Error("error declaring exchange for rabbitmq", "msg", err.Error())
		return err
	}

	_, err = n.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "notification_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		logger.Error("error creating notification indexes", "msg", err.Error())
		return err
	}

	logger.Info("notification service running!", "region", n.Config().Region,
		"mongodb_addr", n.Config().MongoDBAddr, "mongodb_port", n.Config().MongoDBPort,
		"rabbitmq_addr", n.Config().RabbitMQAddr, "rabbitmq_port", n.Config().RabbitMQPort,
	)
	return nil
}

// Notify writes the durable notification record and then queues an email job.
// The record write is the contract; a queueing failure is logged and swallowed
// so the triggering like or comment never fails because of the mailer.
func (n *notificationService) Notify(ctx context.Context, reqID int64, recipientID int64, ntype string, actorID int64, postID int64, commentText string) error {
	logger := n.Logger(ctx)
	logger.Debug("entering Notify", "req_id", reqID, "recipient", recipientID, "type", ntype, "actor", actorID, "post_id", postID)

	if ntype != model.NotificationLike && ntype != model.NotificationComment {
		return model.InvalidInputf("invalid notification type %q", ntype)
	}

	id, err := n.uniqueIdService.Get().NextID(ctx, reqID)
	if err != nil {
		return err
	}
	notification := model.Notification{
		NotificationID: id,
		Recipient:      recipientID,
		Type:           ntype,
		RelatedUser:    actorID,
		RelatedPost:    postID,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if _, err := n.collection().InsertOne(ctx, notification); err != nil {
		logger.Error("error writing notification", "msg", err.Error())
		return err
	}
	sn_metrics.FanoutNotifications.Inc()

	if sendsEmail(ntype) {
		n.queueEmailJob(ctx, reqID, notification, commentText)
	}
	return nil
}

// sendsEmail reports whether a notification type fans out to email. Likes stay
// in-app.
func sendsEmail(ntype string) bool {
	return ntype == model.NotificationComment
}

// queueEmailJob publishes the job for the mailer workers. Best-effort only.
func (n *notificationService) queueEmailJob(ctx context.Context, reqID int64, notification model.Notification, commentText string) {
	logger := n.Logger(ctx)

	job := model.EmailJob{
		ReqID:          reqID,
		NotificationID: notification.NotificationID,
		Recipient:      notification.Recipient,
		Type:           notification.Type,
		ActorID:        notification.RelatedUser,
		PostID:         notification.RelatedPost,
		CommentText:    commentText,
		SpanContext:    sn_trace.FromContext(ctx),
		EnqueuedTs:     time.Now().UnixMilli(),
	}
	jobJSON, err := json.Marshal(job)
	if err != nil {
		logger.Error("error converting email job to json", "msg", err.Error())
		sn_metrics.EmailPublishFailures.Inc()
		return
	}

	amqMsg := amqp.Publishing{
		ContentType: "application/json",
		Body:        jobJSON,
	}
	routingKey := NOTIFY_EMAIL_EXCHANGE + "-" + n.Config().Region
	err = n.amqChannel.PublishWithContext(ctx, NOTIFY_EMAIL_EXCHANGE, routingKey, false, false, amqMsg)
	if err != nil {
		logger.Error("error queueing email job to rabbitmq", "msg", err.Error())
		sn_metrics.EmailPublishFailures.Inc()
	}
}

func (n *notificationService) ListByRecipient(ctx context.Context, reqID int64, recipientID int64) ([]model.Notification, error) {
	logger := n.Logger(ctx)
	logger.Debug("entering ListByRecipient", "req_id", reqID, "recipient", recipientID)

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := n.collection().Find(ctx, bson.D{{Key: "recipient", Value: recipientID}}, opts)
	if err != nil {
		logger.Error("error reading notifications from mongodb", "msg", err.Error())
		return nil, err
	}
	var notifications []model.Notification
	if err := cur.All(ctx, &notifications); err != nil {
		logger.Error("error parsing notifications from mongodb result", "msg", err.Error())
		return nil, err
	}
	return notifications, nil
}

// MarkRead flips the read flag. The recipient filter doubles as the ownership
// check: another user's notification behaves as missing.
func (n *notificationService) MarkRead(ctx context.Context, reqID int64, notificationID int64, recipientID int64) error {
	logger := n.Logger(ctx)
	logger.Debug("entering MarkRead", "req_id", reqID, "notification_id", notificationID, "recipient", recipientID)

	filter := bson.M{"notification_id": notificationID, "recipient": recipientID}
	result, err := n.collection().UpdateOne(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		logger.Error("error updating notification in mongodb", "msg", err.Error())
		return err
	}
	if result.MatchedCount == 0 {
		return model.NotFoundf("notification %d", notificationID)
	}
	return nil
}

func (n *notificationService) DeleteNotification(ctx context.Context, reqID int64, notificationID int64, recipientID int64) error {
	logger := n.Logger(ctx)
	logger.Debug("entering DeleteNotification", "req_id", reqID, "notification_id", notificationID, "recipient", recipientID)

	filter := bson.M{"notification_id": notificationID, "recipient": recipientID}
	result, err := n.collection().DeleteOne(ctx, filter)
	if err != nil {
		logger.Error("error deleting notification in mongodb", "msg", err.Error())
		return err
	}
	if result.DeletedCount == 0 {
		return model.NotFoundf("notification %d", notificationID)
	}
	return nil
}
