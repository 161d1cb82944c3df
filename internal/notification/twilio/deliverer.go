// Package twilio delivers SMS and WHATSAPP notifications through the Twilio
// Messages API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
	"github.com/auralink/proactive/internal/notification"
)

const (
	defaultBaseURL = "https://api.twilio.com"
	requestTimeout = 15 * time.Second
	whatsappPrefix = "whatsapp:"
	maxBodyLength  = 1600
)

// Config holds Twilio account settings.
type Config struct {
	AccountSID   string
	AuthToken    string
	From         string
	WhatsAppFrom string
	BaseURL      string
	// RateLimit is messages per second; zero disables limiting.
	RateLimit float64
}

// Deliverer sends one channel, SMS or WHATSAPP, through Twilio.
type Deliverer struct {
	channel  entities.Channel
	cfg      Config
	contacts notification.ContactResolver
	client   *http.Client
	limiter  *rate.Limiter
	log      logger.Logger
}

// New creates a Deliverer for channel. A nil client uses a client with a
// request timeout.
func New(channel entities.Channel, cfg Config, contacts notification.ContactResolver, client *http.Client, log logger.Logger) (*Deliverer, error) {
	if channel != entities.ChannelSMS && channel != entities.ChannelWhatsApp {
		return nil, errors.Newf("twilio cannot deliver channel %s", channel).
			Component("twilio").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.Newf("twilio account_sid and auth_token are required").
			Component("twilio").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	if log == nil {
		log = logger.Discard()
	}

	d := &Deliverer{
		channel:  channel,
		cfg:      cfg,
		contacts: contacts,
		client:   client,
		log:      log.Module("twilio").With(logger.String("channel", string(channel))),
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return d, nil
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Deliver implements notification.Deliverer.
func (d *Deliverer) Deliver(ctx context.Context, n *entities.QueuedNotification) notification.DeliveryResult {
	to, from, err := d.addresses(ctx, n.UserID)
	if err != nil {
		return notification.FailureResult(err)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return notification.FailureResult(notification.NewDeliveryError(d.channel, err, true))
		}
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", truncate(n.Message, maxBodyLength))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(d.cfg.BaseURL, "/"), d.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return notification.FailureResult(notification.NewDeliveryError(d.channel, err, false))
	}
	req.SetBasicAuth(d.cfg.AccountSID, d.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return notification.FailureResult(notification.NewDeliveryError(d.channel, err, true))
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var parsed messageResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.log.Debug("message accepted",
			logger.String("notification_id", n.ID),
			logger.String("sid", parsed.SID))
		return notification.DeliveryResult{Success: true, ExternalID: parsed.SID}
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	detail := parsed.Message
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	cause := fmt.Errorf("twilio returned %d (code %d): %s", resp.StatusCode, parsed.Code, detail)
	return notification.FailureResult(notification.NewDeliveryError(d.channel, cause, retryable))
}

// addresses resolves the To and From numbers for the channel.
func (d *Deliverer) addresses(ctx context.Context, userID string) (to, from string, err error) {
	if d.contacts == nil {
		return "", "", notification.NewDeliveryError(d.channel, errors.NewStd("no contact resolver configured"), false)
	}
	contact, err := d.contacts.GetContact(ctx, userID)
	if err != nil {
		retryable := !errors.Is(err, repository.ErrContactNotFound)
		return "", "", notification.NewDeliveryError(d.channel, err, retryable)
	}

	switch d.channel {
	case entities.ChannelWhatsApp:
		number := contact.WhatsApp
		if number == "" {
			number = contact.Phone
		}
		from = d.cfg.WhatsAppFrom
		if from == "" {
			from = d.cfg.From
		}
		to, from = withPrefix(number), withPrefix(from)
	default:
		to, from = contact.Phone, d.cfg.From
	}

	if strings.TrimPrefix(to, whatsappPrefix) == "" {
		return "", "", notification.NewDeliveryError(d.channel, errors.NewStd("no phone number for user "+userID), false)
	}
	return to, from, nil
}

func withPrefix(number string) string {
	if number == "" || strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
