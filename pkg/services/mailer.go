package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strconv"
	"time"

	sn_metrics "github.com/hathongthuong2k3/dev.io/pkg/metrics"
	"github.com/hathongthuong2k3/dev.io/pkg/model"
	"github.com/hathongthuong2k3/dev.io/pkg/storage"
	sn_trace "github.com/hathongthuong2k3/dev.io/pkg/trace"

	"github.com/ServiceWeaver/weaver"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type MailerService interface {
	// MailerService consumes the email queue and does not expose rpc methods
}

const WORKER_RECONNECT_DELAY = 5 * time.Second

type mailerServiceOptions struct {
	RabbitMQAddr     string `toml:"rabbitmq_address"`
	RabbitMQPort     int    `toml:"rabbitmq_port"`
	RabbitMQUsername string `toml:"rabbitmq_username"`
	RabbitMQPassword string `toml:"rabbitmq_password"`
	MongoDBAddr      string `toml:"mongodb_address"`
	MongoDBPort      int    `toml:"mongodb_port"`
	SMTPAddr         string `toml:"smtp_address"`
	SMTPPort         int    `toml:"smtp_port"`
	SMTPUsername     string `toml:"smtp_username"`
	SMTPPassword     string `toml:"smtp_password"`
	SMTPFrom         string `toml:"smtp_from"`
	ClientURL        string `toml:"client_url"`
	NumWorkers       int    `toml:"num_workers"`
	Region           string `toml:"region"`
}

type mailerService struct {
	weaver.Implements[MailerService]
	weaver.WithConfig[mailerServiceOptions]
	mongoClient *mongo.Client
}

func (m *mailerService) Init(ctx context.Context) error {
	logger := m.Logger(ctx)
	logger.Debug("initializing mailer service...")

	var err error
	m.mongoClient, err = storage.MongoDBClient(ctx, m.Config().MongoDBAddr, m.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	logger.Info("initializing workers for MailerService service", "region", m.Config().Region,
		"nworkers", m.Config().NumWorkers,
		"rabbitmq_addr", m.Config().RabbitMQAddr, "rabbitmq_port", m.Config().RabbitMQPort,
	)
	for i := 1; i <= m.Config().NumWorkers; i++ {
		go func() {
			for ctx.Err() == nil {
				err := m.workerThread(ctx)
				logger.Warn("mailer worker stopped, reconnecting",
					"cause", workerExitCause(err), "delay", WORKER_RECONNECT_DELAY)
				time.Sleep(WORKER_RECONNECT_DELAY)
			}
		}()
	}
	return nil
}

// workerExitCause renders why a consume loop ended. The loop returning nil
// means the broker closed the deliveries channel.
func workerExitCause(err error) string {
	if err == nil {
		return "deliveries channel closed"
	}
	return err.Error()
}

func (m *mailerService) workerThread(ctx context.Context) error {
	logger := m.Logger(ctx)

	ch, conn, err := storage.RabbitMQClient(ctx,
		m.Config().RabbitMQUsername, m.Config().RabbitMQPassword,
		m.Config().RabbitMQAddr, m.Config().RabbitMQPort,
	)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	defer conn.Close()
	defer ch.Close()

	err = ch.ExchangeDeclare(NOTIFY_EMAIL_EXCHANGE, "topic", false, false, false, false, nil)
	if err != nil {
		logger.Error("error declaring exchange for rabbitmq", "msg", err.Error())
		return err
	}

	routingKey := fmt.Sprintf("%s-%s", NOTIFY_EMAIL_EXCHANGE, m.Config().Region)
	_, err = ch.QueueDeclare(routingKey, true, false, false, false, nil)
	if err != nil {
		logger.Error("error declaring queue for rabbitmq", "msg", err.Error())
		return err
	}

	err = ch.QueueBind(routingKey, routingKey, NOTIFY_EMAIL_EXCHANGE, false, nil)
	if err != nil {
		logger.Error("error binding queue for rabbitmq", "msg", err.Error())
		return err
	}

	msgs, err := ch.Consume(routingKey, "", true, false, false, false, nil)
	if err != nil {
		logger.Error("error consuming queue", "msg", err.Error())
		return err
	}

	for msg := range msgs {
		if err := m.onReceivedWorker(ctx, msg.Body); err != nil {
			logger.Warn("error handling email job", "msg", err.Error())
		}
	}
	return nil
}

func (m *mailerService) onReceivedWorker(ctx context.Context, body []byte) error {
	logger := m.Logger(ctx)

	var job model.EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		logger.Error("error parsing json email job", "msg", err.Error())
		return err
	}
	ctx = sn_trace.ContinueContext(ctx, job.SpanContext)

	logger.Debug("received email job", "notification_id", job.NotificationID, "type", job.Type)
	sn_metrics.QueueDurationMs.Put(float64(time.Now().UnixMilli() - job.EnqueuedTs))
	trace.SpanFromContext(ctx).AddEvent("reading email job",
		trace.WithAttributes(
			attribute.Int64("queue_end_ms", time.Now().UnixMilli()),
		))

	if !sendsEmail(job.Type) {
		return nil
	}

	userColl := m.mongoClient.Database("user").Collection("user")
	var recipient, actor model.User
	err := userColl.FindOne(ctx, bson.D{{Key: "user_id", Value: job.Recipient}}).Decode(&recipient)
	if err != nil {
		logger.Error("error reading recipient from mongodb", "msg", err.Error())
		sn_metrics.EmailFailures.Inc()
		return nil
	}
	err = userColl.FindOne(ctx, bson.D{{Key: "user_id", Value: job.ActorID}}).Decode(&actor)
	if err != nil {
		logger.Error("error reading actor from mongodb", "msg", err.Error())
		sn_metrics.EmailFailures.Inc()
		return nil
	}

	postURL := m.Config().ClientURL + "/post/" + strconv.FormatInt(job.PostID, 10)
	msg := ComposeCommentEmail(m.Config().SMTPFrom, recipient.Email, recipient.Name, actor.Name, postURL, job.CommentText)

	if err := m.sendEmail(recipient.Email, msg); err != nil {
		// delivery is best-effort, failures are observability-only
		logger.Error("error sending comment notification email", "to", recipient.Email, "msg", err.Error())
		sn_metrics.EmailFailures.Inc()
		return nil
	}
	sn_metrics.DeliveredEmails.Inc()
	logger.Debug("delivered comment notification email", "to", recipient.Email)
	return nil
}

func (m *mailerService) sendEmail(to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", m.Config().SMTPAddr, m.Config().SMTPPort)
	var auth smtp.Auth
	if m.Config().SMTPUsername != "" {
		auth = smtp.PlainAuth("", m.Config().SMTPUsername, m.Config().SMTPPassword, m.Config().SMTPAddr)
	}
	return smtp.SendMail(addr, auth, m.Config().SMTPFrom, []string{to}, msg)
}

// ComposeCommentEmail renders the comment notification message in rfc 5322
// shape.
func ComposeCommentEmail(from string, toEmail string, toName string, fromName string, postURL string, content string) []byte {
	body := fmt.Sprintf(
		"Hi %s,\r\n\r\n%s commented on your post:\r\n\r\n%s\r\n\r\nRead it here: %s\r\n",
		toName, fromName, content, postURL,
	)
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s commented on your post\r\n\r\n%s",
		from, toEmail, fromName, body,
	)
	return []byte(msg)
}
