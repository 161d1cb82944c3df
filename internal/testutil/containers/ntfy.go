//go:build integration

package containers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const ntfyImage = "binwiederhier/ntfy:latest"

// NtfyContainer is a disposable ntfy server used as a web push target.
type NtfyContainer struct {
	container testcontainers.Container
	baseURL   string
}

// NtfyMessage is one cached message from a topic.
type NtfyMessage struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Topic   string `json:"topic"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// NewNtfyContainer starts ntfy with an in-memory message cache. The
// container is terminated when the test finishes.
func NewNtfyContainer(ctx context.Context, t *testing.T) *NtfyContainer {
	t.Helper()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        ntfyImage,
			ExposedPorts: []string{"80/tcp"},
			Cmd:          []string{"serve", "--cache-file=/tmp/ntfy/cache.db"},
			Tmpfs:        map[string]string{"/tmp/ntfy": "rw"},
			WaitingFor: wait.ForHTTP("/v1/health").
				WithPort("80/tcp").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start ntfy container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate ntfy container: %v", err)
		}
	})

	endpoint, err := c.PortEndpoint(ctx, "80/tcp", "http")
	if err != nil {
		t.Fatalf("failed to get ntfy endpoint: %v", err)
	}
	return &NtfyContainer{container: c, baseURL: endpoint}
}

// URL returns the server's http base URL.
func (c *NtfyContainer) URL() string {
	return c.baseURL
}

// ShoutrrrURL returns an ntfy:// URL for topic that talks plain http.
func (c *NtfyContainer) ShoutrrrURL(topic string) string {
	host := strings.TrimPrefix(c.baseURL, "http://")
	return fmt.Sprintf("ntfy://%s/%s?scheme=http", host, topic)
}

// Messages polls every cached message on topic.
func (c *NtfyContainer) Messages(ctx context.Context, topic string) ([]NtfyMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s/json?poll=1", c.baseURL, topic), http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll ntfy: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ntfy poll returned %d: %s", resp.StatusCode, body)
	}

	// Newline-delimited JSON, one event per line.
	var messages []NtfyMessage
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg NtfyMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, fmt.Errorf("failed to parse ntfy message: %w", err)
		}
		if msg.Event != "" && msg.Event != "message" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, scanner.Err()
}
