//go:build integration

package push_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/notification/push"
	"github.com/auralink/proactive/internal/testutil/containers"
)

func TestDeliverer_NtfyServer(t *testing.T) {
	ntfy := containers.NewNtfyContainer(t.Context(), t)
	topic := "proactive-it"

	d := push.New(ntfy.ShoutrrrURL(topic), nil, nil)
	res := d.Deliver(t.Context(), &entities.QueuedNotification{
		ID:              "n1",
		UserID:          "u1",
		Message:         "Umbrella today, rain from 3pm",
		Priority:        4,
		DeliveryChannel: entities.ChannelWebPush,
	})
	require.True(t, res.Success, "delivery error: %v", res.Error)

	var msgs []containers.NtfyMessage
	require.Eventually(t, func() bool {
		var err error
		msgs, err = ntfy.Messages(t.Context(), topic)
		return err == nil && len(msgs) == 1
	}, 10*time.Second, 200*time.Millisecond)
	assert.Equal(t, "Umbrella today, rain from 3pm", msgs[0].Message)
	assert.Equal(t, "New message", msgs[0].Title)
}
