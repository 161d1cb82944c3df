package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
)

// Default preference applied when a user has no stored row.
const (
	defaultTimezone          = "UTC"
	defaultPriorityThreshold = 5
)

// DefaultPreference returns the preference used when no row exists.
func DefaultPreference(userID string, channel entities.Channel) *entities.NotificationPreference {
	return &entities.NotificationPreference{
		UserID:            userID,
		Channel:           channel,
		Enabled:           true,
		Timezone:          defaultTimezone,
		PriorityThreshold: defaultPriorityThreshold,
	}
}

// ResolvePreference returns the entity-specific preference, then the global
// one, then the default.
func (s *Service) ResolvePreference(ctx context.Context, userID string, entityID uint, channel entities.Channel) (*entities.NotificationPreference, error) {
	if entityID != 0 {
		pref, err := s.preferences.Find(ctx, userID, &entityID, channel)
		if err == nil {
			return pref, nil
		}
		if !errors.Is(err, repository.ErrPreferenceNotFound) {
			return nil, err
		}
	}

	pref, err := s.preferences.Find(ctx, userID, nil, channel)
	switch {
	case err == nil:
		return pref, nil
	case errors.Is(err, repository.ErrPreferenceNotFound):
		return DefaultPreference(userID, channel), nil
	default:
		return nil, err
	}
}

// CheckDeliveryConstraints decides whether n may go out on channel now. The
// checks run in order: channel enabled, quiet hours, daily cap.
func (s *Service) CheckDeliveryConstraints(ctx context.Context, n *entities.QueuedNotification, channel entities.Channel) (ConstraintResult, error) {
	pref, err := s.ResolvePreference(ctx, n.UserID, n.EntityID, channel)
	if err != nil {
		return ConstraintResult{}, err
	}

	if !pref.Enabled {
		return ConstraintResult{Reason: ReasonChannelDisabled}, nil
	}

	loc := s.location(pref.Timezone)
	local := s.now().In(loc)

	if pref.QuietHoursEnabled && s.inQuietHours(pref, local) {
		return ConstraintResult{Reason: ReasonQuietHours}, nil
	}

	if pref.MaxPerDay != nil {
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		sent, err := s.deliveries.CountDelivered(ctx, n.UserID, channel, pref.EntityID, midnight)
		if err != nil {
			return ConstraintResult{}, err
		}
		if sent >= int64(*pref.MaxPerDay) {
			return ConstraintResult{Reason: ReasonDailyLimit}, nil
		}
	}

	return ConstraintResult{Allowed: true}, nil
}

func (s *Service) location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.log.Warn("unknown preference timezone, using UTC", logger.String("timezone", name))
		return time.UTC
	}
	return loc
}

func (s *Service) inQuietHours(pref *entities.NotificationPreference, local time.Time) bool {
	start, err := parseClock(pref.QuietHoursStart)
	if err != nil {
		s.log.Warn("invalid quiet hours start", logger.String("value", pref.QuietHoursStart), logger.Error(err))
		return false
	}
	end, err := parseClock(pref.QuietHoursEnd)
	if err != nil {
		s.log.Warn("invalid quiet hours end", logger.String("value", pref.QuietHoursEnd), logger.Error(err))
		return false
	}
	return InQuietWindow(start, end, local.Hour()*60+local.Minute())
}

// InQuietWindow reports whether minute-of-day now falls in [start,end). The
// window wraps midnight when start > end; start == end is no window.
func InQuietWindow(start, end, now int) bool {
	switch {
	case start == end:
		return false
	case start < end:
		return now >= start && now < end
	default:
		return now >= start || now < end
	}
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour*60 + minute, nil
}

// ValidatePreference checks a preference before it is stored.
func ValidatePreference(pref *entities.NotificationPreference) error {
	var problems []error
	if pref.UserID == "" {
		problems = append(problems, fmt.Errorf("user_id is required"))
	}
	switch pref.Channel {
	case entities.ChannelInApp, entities.ChannelWebPush, entities.ChannelSMS, entities.ChannelWhatsApp:
	default:
		problems = append(problems, fmt.Errorf("unknown channel %q", pref.Channel))
	}
	if pref.QuietHoursEnabled {
		if _, err := parseClock(pref.QuietHoursStart); err != nil {
			problems = append(problems, fmt.Errorf("quiet_hours_start: %w", err))
		}
		if _, err := parseClock(pref.QuietHoursEnd); err != nil {
			problems = append(problems, fmt.Errorf("quiet_hours_end: %w", err))
		}
	}
	if pref.Timezone != "" {
		if _, err := time.LoadLocation(pref.Timezone); err != nil {
			problems = append(problems, fmt.Errorf("unknown timezone %q", pref.Timezone))
		}
	}
	if pref.MaxPerDay != nil && *pref.MaxPerDay < 0 {
		problems = append(problems, fmt.Errorf("max_per_day must not be negative"))
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.Join(problems...)).
		Component("notification").
		Category(errors.CategoryValidation).
		Build()
}
