// Package push delivers WEB_PUSH notifications through shoutrrr service URLs.
package push

import (
	"context"
	"strconv"
	"sync"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
)

// Sender is the subset of a shoutrrr router the deliverer uses.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// SenderFactory builds a Sender for a service URL.
type SenderFactory func(url string) (Sender, error)

func shoutrrrSender(url string) (Sender, error) {
	return shoutrrr.CreateSender(url)
}

// Deliverer is the WEB_PUSH channel. A user's contact push endpoint, when
// set, overrides the configured service URL.
type Deliverer struct {
	defaultURL string
	contacts   notification.ContactResolver
	factory    SenderFactory
	senders    sync.Map // url -> Sender
	log        logger.Logger
}

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithSenderFactory replaces the shoutrrr sender constructor.
func WithSenderFactory(f SenderFactory) Option {
	return func(d *Deliverer) { d.factory = f }
}

// New creates a push Deliverer. contacts may be nil when every message goes
// to defaultURL.
func New(defaultURL string, contacts notification.ContactResolver, log logger.Logger, opts ...Option) *Deliverer {
	if log == nil {
		log = logger.Discard()
	}
	d := &Deliverer{
		defaultURL: defaultURL,
		contacts:   contacts,
		factory:    shoutrrrSender,
		log:        log.Module("push"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deliver implements notification.Deliverer.
func (d *Deliverer) Deliver(ctx context.Context, n *entities.QueuedNotification) notification.DeliveryResult {
	url, err := d.endpoint(ctx, n.UserID)
	if err != nil {
		return notification.FailureResult(err)
	}

	sender, err := d.sender(url)
	if err != nil {
		return notification.FailureResult(notification.NewDeliveryError(entities.ChannelWebPush, err, false))
	}

	params := types.Params{
		"title":    "New message",
		"priority": strconv.Itoa(pushPriority(n.Priority)),
	}
	if errs := sender.Send(n.Message, &params); len(errs) > 0 {
		var failed []error
		for _, e := range errs {
			if e != nil {
				failed = append(failed, e)
			}
		}
		if len(failed) > 0 {
			d.log.Warn("push send failed",
				logger.String("notification_id", n.ID),
				logger.Int("errors", len(failed)))
			return notification.FailureResult(notification.NewDeliveryError(entities.ChannelWebPush, errors.Join(failed...), true))
		}
	}
	return notification.DeliveryResult{Success: true}
}

func (d *Deliverer) endpoint(ctx context.Context, userID string) (string, error) {
	if d.contacts != nil {
		contact, err := d.contacts.GetContact(ctx, userID)
		switch {
		case err == nil && contact.PushEndpoint != "":
			return contact.PushEndpoint, nil
		case err != nil && !errors.Is(err, repository.ErrContactNotFound):
			return "", notification.NewDeliveryError(entities.ChannelWebPush, err, true)
		}
	}
	if d.defaultURL == "" {
		return "", notification.NewDeliveryError(entities.ChannelWebPush,
			errors.NewStd("no push endpoint for user "+userID), false)
	}
	return d.defaultURL, nil
}

func (d *Deliverer) sender(url string) (Sender, error) {
	if s, ok := d.senders.Load(url); ok {
		return s.(Sender), nil
	}
	s, err := d.factory(url)
	if err != nil {
		return nil, err
	}
	actual, _ := d.senders.LoadOrStore(url, s)
	return actual.(Sender), nil
}

// pushPriority maps rule priority onto the 1..5 scale push services use.
func pushPriority(p int) int {
	switch {
	case p <= 1:
		return 1
	case p >= 5:
		return 5
	default:
		return p
	}
}
