package services

import (
	"context"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hathongthuong2k3/dev.io/pkg/model"

	"github.com/ServiceWeaver/weaver"
)

type MediaService interface {
	Upload(ctx context.Context, reqID int64, payload string) (string, error)
	Delete(ctx context.Context, reqID int64, url string) error
}

type mediaService struct {
	weaver.Implements[MediaService]
	weaver.WithConfig[mediaServiceOptions]
	httpClient *http.Client
}

type mediaServiceOptions struct {
	MediaStoreURL  string `toml:"media_store_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Region         string `toml:"region"`
}

func (m *mediaService) Init(ctx context.Context) error {
	logger := m.Logger(ctx)

	timeout := m.Config().TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	m.httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}

	logger.Info("media service running!", "region", m.Config().Region, "media_store_url", m.Config().MediaStoreURL)
	return nil
}

// Upload pushes an image payload to the media store and returns the public URL
// it is served under.
func (m *mediaService) Upload(ctx context.Context, reqID int64, payload string) (string, error) {
	logger := m.Logger(ctx)
	logger.Debug("entering Upload", "req_id", reqID, "payload_len", len(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Config().MediaStoreURL+"/upload", strings.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		logger.Error("error uploading media", "msg", err.Error())
		return "", model.Upstreamf("media store upload: %s", err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("error reading media store response", "msg", err.Error())
		return "", model.Upstreamf("media store upload: %s", err.Error())
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		logger.Error("media store rejected upload", "status", resp.StatusCode)
		return "", model.Upstreamf("media store upload: status %d", resp.StatusCode)
	}

	url := strings.TrimSpace(string(body))
	if url == "" {
		return "", model.Upstreamf("media store upload: empty url in response")
	}
	return url, nil
}

// Delete removes the object behind url from the media store.
func (m *mediaService) Delete(ctx context.Context, reqID int64, url string) error {
	logger := m.Logger(ctx)
	logger.Debug("entering Delete", "req_id", reqID, "url", url)

	key := MediaKeyFromURL(url)
	if key == "" {
		return model.InvalidInputf("cannot derive media key from url %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.Config().MediaStoreURL+"/media/"+key, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		logger.Error("error deleting media", "msg", err.Error())
		return model.Upstreamf("media store delete: %s", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		logger.Error("media store rejected delete", "status", resp.StatusCode)
		return model.Upstreamf("media store delete: status %d", resp.StatusCode)
	}
	return nil
}

// MediaKeyFromURL derives the store key from a public media URL: the last path
// segment with its extension stripped.
func MediaKeyFromURL(url string) string {
	segment := path.Base(url)
	if segment == "." || segment == "/" {
		return ""
	}
	if idx := strings.LastIndex(segment, "."); idx > 0 {
		segment = segment[:idx]
	}
	return segment
}
