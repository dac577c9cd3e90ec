package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaKeyFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/media/abc123.jpg", "abc123"},
		{"https://cdn.example.com/media/abc123.tar.gz", "abc123.tar"},
		{"https://cdn.example.com/abc123", "abc123"},
		{"abc123.png", "abc123"},
		{".hidden", ".hidden"},
		{"", ""},
		{"/", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MediaKeyFromURL(c.url), "url %q", c.url)
	}
}
