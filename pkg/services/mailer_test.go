package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerExitCause(t *testing.T) {
	// a closed deliveries channel ends the consume loop without an error;
	// the worker must survive that and reconnect
	assert.Equal(t, "deliveries channel closed", workerExitCause(nil))
	assert.Equal(t, "broker unreachable", workerExitCause(errors.New("broker unreachable")))
}

func TestComposeCommentEmail(t *testing.T) {
	msg := string(ComposeCommentEmail(
		"notifications@dev.io", "ada@example.com", "Ada", "Grace",
		"http://localhost:3000/post/42", "great writeup",
	))

	assert.Contains(t, msg, "From: notifications@dev.io\r\n")
	assert.Contains(t, msg, "To: ada@example.com\r\n")
	assert.Contains(t, msg, "Subject: Grace commented on your post\r\n")
	assert.Contains(t, msg, "Hi Ada,")
	assert.Contains(t, msg, "great writeup")
	assert.Contains(t, msg, "http://localhost:3000/post/42")
}

func TestComposeCommentEmailHeaderBodySplit(t *testing.T) {
	msg := string(ComposeCommentEmail("a@b", "c@d", "C", "A", "u", "x"))
	assert.Contains(t, msg, "\r\n\r\n")
}
