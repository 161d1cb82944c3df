package sensors

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/auralink/proactive/internal/errors"
)

// Store keeps the latest reading per sense in memory. Readings older than
// the TTL drop out and are treated as missing.
type Store struct {
	cache *cache.Cache
	now   func() time.Time
}

// NewStore creates a Store whose readings expire after ttl.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		cache: cache.New(ttl, ttl),
		now:   time.Now,
	}
}

// Put records a reading. A zero timestamp is set to now.
func (s *Store) Put(r SenseReading) {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	s.cache.SetDefault(r.SenseID, r)
}

// Get returns the current reading for senseID.
func (s *Store) Get(senseID string) (SenseReading, bool) {
	v, ok := s.cache.Get(senseID)
	if !ok {
		return SenseReading{}, false
	}
	return v.(SenseReading), true
}

// Len returns the number of live readings.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// GetSenseData implements Provider.
func (s *Store) GetSenseData(ctx context.Context, senseIDs []string) ([]SenseReading, error) {
	out := make([]SenseReading, 0, len(senseIDs))
	for _, id := range senseIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r, ok := s.Get(id); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type envelope struct {
	Data      map[string]any `json:"data"`
	Timestamp *time.Time     `json:"timestamp"`
}

// Ingest parses a JSON payload for senseID and stores it. Payloads shaped
// {"data": {...}, "timestamp": "..."} are unwrapped; any other JSON object is
// the reading itself.
func (s *Store) Ingest(senseID string, payload []byte) error {
	senseID = strings.TrimSpace(senseID)
	if senseID == "" {
		return errors.Newf("sense id is empty").
			Component("sensors").
			Category(errors.CategoryValidation).
			Build()
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Data != nil {
		r := SenseReading{SenseID: senseID, Data: env.Data}
		if env.Timestamp != nil {
			r.Timestamp = env.Timestamp.UTC()
		}
		s.Put(r)
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil {
		return errors.New(err).
			Component("sensors").
			Category(errors.CategoryValidation).
			Context("sense_id", senseID).
			Build()
	}
	s.Put(SenseReading{SenseID: senseID, Data: data})
	return nil
}
