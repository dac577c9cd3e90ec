package services

import (
	"testing"

	"github.com/hathongthuong2k3/dev.io/pkg/model"

	"github.com/stretchr/testify/assert"
)

func TestSendsEmail(t *testing.T) {
	assert.True(t, sendsEmail(model.NotificationComment))

	// likes stay in-app, no job reaches the queue for them
	assert.False(t, sendsEmail(model.NotificationLike))
	assert.False(t, sendsEmail(""))
	assert.False(t, sendsEmail("mention"))
}
