package twilio

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
)

const messagesURL = "https://api.twilio.test/2010-04-01/Accounts/AC123/Messages.json"

type contactsStub map[string]*entities.UserContact

func (c contactsStub) GetContact(_ context.Context, userID string) (*entities.UserContact, error) {
	if contact, ok := c[userID]; ok {
		return contact, nil
	}
	return nil, repository.ErrContactNotFound
}

var contacts = contactsStub{
	"u1": {UserID: "u1", Phone: "+15550001", WhatsApp: "+15550002"},
	"u2": {UserID: "u2", Phone: "+15550003"},
	"u3": {UserID: "u3"},
}

func newDeliverer(t *testing.T, channel entities.Channel) (*Deliverer, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	d, err := New(channel, Config{
		AccountSID:   "AC123",
		AuthToken:    "secret",
		From:         "+15559999",
		WhatsAppFrom: "+15558888",
		BaseURL:      "https://api.twilio.test",
	}, contacts, &http.Client{Transport: mock}, nil)
	require.NoError(t, err)
	return d, mock
}

func TestDeliver_SMS(t *testing.T) {
	t.Parallel()
	d, mock := newDeliverer(t, entities.ChannelSMS)

	var form map[string]string
	mock.RegisterResponder(http.MethodPost, messagesURL, func(req *http.Request) (*http.Response, error) {
		user, pass, ok := req.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			return httpmock.NewStringResponse(http.StatusUnauthorized, `{"code":20003,"message":"Authenticate"}`), nil
		}
		require.NoError(t, req.ParseForm())
		form = map[string]string{"To": req.PostForm.Get("To"), "From": req.PostForm.Get("From"), "Body": req.PostForm.Get("Body")}
		return httpmock.NewStringResponse(http.StatusCreated, `{"sid":"SM42","status":"queued"}`), nil
	})

	res := d.Deliver(t.Context(), &entities.QueuedNotification{ID: "n1", UserID: "u1", Message: "Water the plants"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "SM42", res.ExternalID)
	assert.Equal(t, map[string]string{"To": "+15550001", "From": "+15559999", "Body": "Water the plants"}, form)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestDeliver_WhatsAppPrefixesNumbers(t *testing.T) {
	t.Parallel()
	d, mock := newDeliverer(t, entities.ChannelWhatsApp)

	var to, from string
	mock.RegisterResponder(http.MethodPost, messagesURL, func(req *http.Request) (*http.Response, error) {
		require.NoError(t, req.ParseForm())
		to, from = req.PostForm.Get("To"), req.PostForm.Get("From")
		return httpmock.NewStringResponse(http.StatusCreated, `{"sid":"SM1"}`), nil
	})

	require.True(t, d.Deliver(t.Context(), &entities.QueuedNotification{ID: "n1", UserID: "u1"}).Success)
	assert.Equal(t, "whatsapp:+15550002", to)
	assert.Equal(t, "whatsapp:+15558888", from)

	// Falls back to the phone number.
	require.True(t, d.Deliver(t.Context(), &entities.QueuedNotification{ID: "n2", UserID: "u2"}).Success)
	assert.Equal(t, "whatsapp:+15550003", to)
}

func TestDeliver_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"code":20429,"message":"Too Many Requests"}`, true},
		{"server error", http.StatusServiceUnavailable, ``, true},
		{"invalid number", http.StatusBadRequest, `{"code":21211,"message":"Invalid 'To' Phone Number"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, mock := newDeliverer(t, entities.ChannelSMS)
			mock.RegisterResponder(http.MethodPost, messagesURL, httpmock.NewStringResponder(tt.status, tt.body))

			res := d.Deliver(t.Context(), &entities.QueuedNotification{ID: "n1", UserID: "u1", Message: "x"})
			assert.False(t, res.Success)
			assert.Equal(t, tt.retryable, res.Retryable)
			assert.Contains(t, res.Error, "twilio returned")
		})
	}
}

func TestDeliver_MissingRecipient(t *testing.T) {
	t.Parallel()
	d, mock := newDeliverer(t, entities.ChannelSMS)

	for _, user := range []string{"u3", "unknown"} {
		res := d.Deliver(t.Context(), &entities.QueuedNotification{ID: "n1", UserID: user})
		assert.False(t, res.Success, user)
		assert.False(t, res.Retryable, user)
	}
	assert.Equal(t, 0, mock.GetTotalCallCount())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(entities.ChannelInApp, Config{AccountSID: "a", AuthToken: "b"}, nil, nil, nil)
	require.Error(t, err)
	_, err = New(entities.ChannelSMS, Config{}, nil, nil, nil)
	require.Error(t, err)
}
