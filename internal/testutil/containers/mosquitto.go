//go:build integration

package containers

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mosquittoImage = "eclipse-mosquitto:2.0"

// The 2.x image refuses remote clients unless a listener is configured.
const mosquittoConfig = "listener 1883\nallow_anonymous true\n"

// MosquittoContainer is a disposable MQTT broker.
type MosquittoContainer struct {
	container testcontainers.Container
	brokerURL string
}

// NewMosquittoContainer starts an anonymous broker on 1883. The container
// is terminated when the test finishes.
func NewMosquittoContainer(ctx context.Context, t *testing.T) *MosquittoContainer {
	t.Helper()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mosquittoImage,
			ExposedPorts: []string{"1883/tcp"},
			Cmd:          []string{"mosquitto", "-c", "/mosquitto/config/test.conf"},
			Files: []testcontainers.ContainerFile{{
				Reader:            strings.NewReader(mosquittoConfig),
				ContainerFilePath: "/mosquitto/config/test.conf",
				FileMode:          0o644,
			}},
			WaitingFor: wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start Mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Mosquitto container: %v", err)
		}
	})

	endpoint, err := c.PortEndpoint(ctx, "1883/tcp", "tcp")
	if err != nil {
		t.Fatalf("failed to get Mosquitto endpoint: %v", err)
	}
	return &MosquittoContainer{container: c, brokerURL: endpoint}
}

// BrokerURL returns tcp://host:port.
func (c *MosquittoContainer) BrokerURL() string {
	return c.brokerURL
}

// Publish sends one message with a short-lived client.
func (c *MosquittoContainer) Publish(topic string, qos byte, payload []byte) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.brokerURL).
		SetClientID(fmt.Sprintf("publisher-%d", time.Now().UnixNano())).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		return fmt.Errorf("failed to connect publisher: %w", token.Error())
	}
	defer client.Disconnect(250)

	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}
