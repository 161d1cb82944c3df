// Package tiers holds the fixed per-subscription limits and resolves a user's
// tier.
package tiers

import (
	"slices"
	"strings"
	"time"

	"github.com/auralink/proactive/internal/datastore/entities"
)

// Tier is a subscription level.
type Tier string

const (
	Free     Tier = "FREE"
	Personal Tier = "PERSONAL"
	Family   Tier = "FAMILY"
	Business Tier = "BUSINESS"
)

// Unlimited marks a limit with no cap.
const Unlimited = -1

// Limits are the fixed constraints of a tier.
type Limits struct {
	Tier                   Tier               `json:"tier"`
	EvaluationFrequency    time.Duration      `json:"evaluation_frequency"`
	MaxNotificationsPerDay int                `json:"max_notifications_per_day"`
	MaxRulesPerEntity      int                `json:"max_rules_per_entity"`
	Channels               []entities.Channel `json:"channels"`
	Priority               int                `json:"priority"`
}

var table = map[Tier]Limits{
	Free: {
		Tier:                   Free,
		EvaluationFrequency:    30 * time.Minute,
		MaxNotificationsPerDay: 10,
		MaxRulesPerEntity:      3,
		Channels:               []entities.Channel{entities.ChannelInApp},
		Priority:               1,
	},
	Personal: {
		Tier:                   Personal,
		EvaluationFrequency:    15 * time.Minute,
		MaxNotificationsPerDay: 50,
		MaxRulesPerEntity:      10,
		Channels:               []entities.Channel{entities.ChannelInApp, entities.ChannelWebPush},
		Priority:               2,
	},
	Family: {
		Tier:                   Family,
		EvaluationFrequency:    5 * time.Minute,
		MaxNotificationsPerDay: 200,
		MaxRulesPerEntity:      25,
		Channels:               []entities.Channel{entities.ChannelInApp, entities.ChannelWebPush, entities.ChannelSMS},
		Priority:               3,
	},
	Business: {
		Tier:                   Business,
		EvaluationFrequency:    time.Minute,
		MaxNotificationsPerDay: Unlimited,
		MaxRulesPerEntity:      Unlimited,
		Channels:               []entities.Channel{entities.ChannelInApp, entities.ChannelWebPush, entities.ChannelSMS, entities.ChannelWhatsApp},
		Priority:               4,
	},
}

// All returns the limits of every tier, cheapest first.
func All() []Limits {
	out := make([]Limits, 0, len(table))
	for _, t := range []Tier{Free, Personal, Family, Business} {
		out = append(out, LimitsFor(t))
	}
	return out
}

// Parse maps a stored tier name to a Tier. Unknown names are FREE.
func Parse(s string) Tier {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := table[t]; ok {
		return t
	}
	return Free
}

// LimitsFor returns the limits of t, falling back to FREE. The returned
// channel slice is a copy.
func LimitsFor(t Tier) Limits {
	l, ok := table[t]
	if !ok {
		l = table[Free]
	}
	l.Channels = slices.Clone(l.Channels)
	return l
}

// AllowsChannel reports whether the tier may deliver on ch.
func (l Limits) AllowsChannel(ch entities.Channel) bool {
	return slices.Contains(l.Channels, ch)
}

// FilterChannels keeps the requested channels the tier allows, in request
// order. When none remain it falls back to IN_APP, which every tier has.
func (l Limits) FilterChannels(requested []entities.Channel) []entities.Channel {
	out := make([]entities.Channel, 0, len(requested))
	for _, ch := range requested {
		if l.AllowsChannel(ch) && !slices.Contains(out, ch) {
			out = append(out, ch)
		}
	}
	if len(out) == 0 {
		out = append(out, entities.ChannelInApp)
	}
	return out
}

// DailyCapReached reports whether sent notifications exhaust the daily cap.
func (l Limits) DailyCapReached(sent int64) bool {
	return l.MaxNotificationsPerDay != Unlimited && sent >= int64(l.MaxNotificationsPerDay)
}

// TruncateRules applies the per-entity rule cap.
func TruncateRules(l Limits, rules []entities.BehaviorRule) []entities.BehaviorRule {
	if l.MaxRulesPerEntity == Unlimited || len(rules) <= l.MaxRulesPerEntity {
		return rules
	}
	return rules[:l.MaxRulesPerEntity]
}

// DueForEvaluation reports whether an entity last evaluated at last is due
// under the tier's cadence. Never-evaluated entities are always due.
func (l Limits) DueForEvaluation(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= l.EvaluationFrequency
}
