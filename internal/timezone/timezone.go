// Package timezone resolves IANA timezone names with an in-memory cache.
package timezone

import (
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"publish-calendar-backend/internal/model"
)

// Converter maps timezone names to locations. Lookups are cached for the
// life of the process because zone data does not change at runtime.
type Converter struct {
	locations *cache.Cache
}

// NewConverter creates a Converter with an empty cache.
func NewConverter() *Converter {
	return &Converter{locations: cache.New(cache.NoExpiration, 0)}
}

// Location returns the *time.Location for name. An empty name means UTC.
func (c *Converter) Location(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = model.DefaultTimezone
	}
	if loc, found := c.locations.Get(name); found {
		return loc.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	c.locations.Set(name, loc, cache.NoExpiration)
	return loc, nil
}

// Normalize trims name, defaults it to UTC and checks that it resolves.
// It returns model.ErrInvalidTimezone for unknown names.
func (c *Converter) Normalize(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.DefaultTimezone, nil
	}
	// time.LoadLocation accepts "Local", which is host dependent.
	if strings.EqualFold(name, "local") {
		return "", model.ErrInvalidTimezone
	}
	if _, err := c.Location(name); err != nil {
		return "", model.ErrInvalidTimezone
	}
	return name, nil
}

// In converts t into the named zone.
func (c *Converter) In(t time.Time, name string) (time.Time, error) {
	loc, err := c.Location(name)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
