package metrics

import "github.com/ServiceWeaver/weaver/metrics"

var (
	// post service
	CreatedPosts = metrics.NewCounter(
		"dev_io_created_posts",
		"The number of posts created",
	)
	DeletedPosts = metrics.NewCounter(
		"dev_io_deleted_posts",
		"The number of posts deleted, including cascaded cleanup",
	)
	// notification fan-out
	FanoutNotifications = metrics.NewCounter(
		"dev_io_fanout_notifications",
		"The number of durable notification records written",
	)
	EmailPublishFailures = metrics.NewCounter(
		"dev_io_email_publish_failures",
		"The number of email jobs that could not be queued (swallowed)",
	)
	// mailer
	DeliveredEmails = metrics.NewCounter(
		"dev_io_delivered_emails",
		"The number of notification emails delivered",
	)
	EmailFailures = metrics.NewCounter(
		"dev_io_email_failures",
		"The number of notification emails that failed to send (swallowed)",
	)
	// tag registry
	HealedCounters = metrics.NewCounter(
		"dev_io_healed_counters",
		"The number of tag documents whose denormalized counters were resynced",
	)
	QueueDurationMs = metrics.NewHistogram(
		"dev_io_email_queue_duration_ms",
		"Time spent by an email job in the queue in milliseconds",
		metrics.NonNegativeBuckets,
	)
)
