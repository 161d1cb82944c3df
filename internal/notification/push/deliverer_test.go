package push

import (
	"context"
	"sync"
	"testing"

	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
)

type fakeSender struct {
	mu       sync.Mutex
	messages []string
	params   []types.Params
	errs     []error
}

func (s *fakeSender) Send(message string, params *types.Params) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	s.params = append(s.params, *params)
	return s.errs
}

type contactsStub map[string]*entities.UserContact

func (c contactsStub) GetContact(_ context.Context, userID string) (*entities.UserContact, error) {
	if contact, ok := c[userID]; ok {
		return contact, nil
	}
	return nil, repository.ErrContactNotFound
}

func factoryFor(senders map[string]*fakeSender) SenderFactory {
	return func(url string) (Sender, error) {
		if s, ok := senders[url]; ok {
			return s, nil
		}
		return nil, errors.NewStd("unsupported url " + url)
	}
}

func TestDeliver_UsesContactEndpointOverDefault(t *testing.T) {
	t.Parallel()

	def, personal := &fakeSender{}, &fakeSender{}
	d := New("ntfy://push.example.com/all",
		contactsStub{"u2": {UserID: "u2", PushEndpoint: "ntfy://push.example.com/u2"}},
		nil,
		WithSenderFactory(factoryFor(map[string]*fakeSender{
			"ntfy://push.example.com/all": def,
			"ntfy://push.example.com/u2":  personal,
		})))

	res := d.Deliver(t.Context(), &entities.QueuedNotification{ID: "a", UserID: "u1", Message: "hi", Priority: 9})
	require.True(t, res.Success)
	res = d.Deliver(t.Context(), &entities.QueuedNotification{ID: "b", UserID: "u2", Message: "hey"})
	require.True(t, res.Success)

	assert.Equal(t, []string{"hi"}, def.messages)
	assert.Equal(t, "5", def.params[0]["priority"])
	assert.Equal(t, []string{"hey"}, personal.messages)
}

func TestDeliver_SendErrorsAreRetryable(t *testing.T) {
	t.Parallel()

	s := &fakeSender{errs: []error{nil, errors.NewStd("503 from service")}}
	d := New("ntfy://x/y", nil, nil, WithSenderFactory(factoryFor(map[string]*fakeSender{"ntfy://x/y": s})))

	res := d.Deliver(t.Context(), &entities.QueuedNotification{ID: "a", UserID: "u1", Message: "hi"})
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)
	assert.Contains(t, res.Error, "503 from service")
}

func TestDeliver_MissingEndpointIsPermanent(t *testing.T) {
	t.Parallel()

	d := New("", contactsStub{}, nil)
	res := d.Deliver(t.Context(), &entities.QueuedNotification{ID: "a", UserID: "u1"})
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.Contains(t, res.Error, "no push endpoint")
}

func TestDeliver_BadURLIsPermanent(t *testing.T) {
	t.Parallel()

	d := New("bogus://", nil, nil, WithSenderFactory(factoryFor(nil)))
	res := d.Deliver(t.Context(), &entities.QueuedNotification{ID: "a", UserID: "u1"})
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
}
