package model

import (
	sn_trace "github.com/hathongthuong2k3/dev.io/pkg/trace"
)

// EmailJob is the message queued by the notification service for the mailer
// workers. It carries the span context so the delivery attempt shows up under
// the triggering request's trace.
type EmailJob struct {
	ReqID          int64                `json:"req_id"`
	NotificationID int64                `json:"notification_id"`
	Recipient      int64                `json:"recipient"`
	Type           string               `json:"type"`
	ActorID        int64                `json:"actor_id"`
	PostID         int64                `json:"post_id"`
	CommentText    string               `json:"comment_text"`
	SpanContext    sn_trace.SpanContext `json:"span_context"`
	// evaluation metrics
	EnqueuedTs int64 `json:"enqueued_ts"`
}
