// Package marketclock provides exchange-time, session, holiday and DTE
// computations. All calendar math is done in the exchange-local timezone so a
// play created at 23:00 local the day before expiration reports DTE = 1.
package marketclock

import (
	"fmt"
	"time"

	"github.com/Zaroganos/goldflipper/internal/models"
)

const (
	defaultTimezone = "America/New_York"

	sessionOpenHour    = 9
	sessionOpenMinute  = 30
	sessionCloseHour   = 16
	earlyCloseHour     = 13
	sessionCloseMinute = 0
)

// Clock answers session and calendar questions in exchange-local time.
type Clock struct {
	loc         *time.Location
	holidays    map[string]bool // YYYY-MM-DD, full-day closures
	earlyCloses map[string]bool // YYYY-MM-DD, 13:00 ET close
	nowFn       func() time.Time
}

// Option customizes a Clock.
type Option func(*Clock)

// WithNowFunc overrides the time source. Used by tests.
func WithNowFunc(fn func() time.Time) Option {
	return func(c *Clock) { c.nowFn = fn }
}

// WithHolidays replaces the built-in holiday calendar.
func WithHolidays(holidays, earlyCloses []string) Option {
	return func(c *Clock) {
		c.holidays = make(map[string]bool, len(holidays))
		for _, d := range holidays {
			c.holidays[d] = true
		}
		c.earlyCloses = make(map[string]bool, len(earlyCloses))
		for _, d := range earlyCloses {
			c.earlyCloses[d] = true
		}
	}
}

// New creates a Clock for the given timezone. An empty timezone means the
// exchange default. Unresolvable zones fall back to a fixed ET offset so
// minimal containers without tzdata still run.
func New(timezone string, opts ...Option) (*Clock, error) {
	if timezone == "" {
		timezone = defaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.FixedZone("ET", -5*60*60)
	}
	c := &Clock{
		loc:         loc,
		holidays:    defaultHolidays(),
		earlyCloses: defaultEarlyCloses(),
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loc == nil {
		return nil, fmt.Errorf("market clock: nil location")
	}
	return c, nil
}

// Now returns the current exchange-local time.
func (c *Clock) Now() time.Time {
	return c.nowFn().In(c.loc)
}

// Location returns the exchange timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Today returns the current exchange-local calendar date.
func (c *Clock) Today() models.Date {
	return models.DateOf(c.Now())
}

// IsOpenToday reports whether the exchange trades at all today.
func (c *Clock) IsOpenToday() bool {
	return c.isTradingDay(c.Now())
}

func (c *Clock) isTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}

// IsPrimarySession reports whether the regular session is currently open.
// Pre/post market never counts.
func (c *Clock) IsPrimarySession() bool {
	now := c.Now()
	if !c.isTradingDay(now) {
		return false
	}
	open := time.Date(now.Year(), now.Month(), now.Day(),
		sessionOpenHour, sessionOpenMinute, 0, 0, c.loc)
	closeAt := c.SessionCloseTime(models.DateOf(now))
	return !now.Before(open) && now.Before(closeAt)
}

// SessionCloseTime returns the close instant for the given date, honoring
// early-close days.
func (c *Clock) SessionCloseTime(date models.Date) time.Time {
	hour := sessionCloseHour
	if c.earlyCloses[date.Format("2006-01-02")] {
		hour = earlyCloseHour
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		hour, sessionCloseMinute, 0, 0, c.loc)
}

// DaysToExpiration counts exchange-local calendar days until the expiration
// date. Expired contracts report 0.
func (c *Clock) DaysToExpiration(expiration models.Date) int {
	today := c.Now()
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(expiration.Year(), expiration.Month(), expiration.Day(), 0, 0, 0, 0, time.UTC)
	days := int(end.Sub(start).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// IsExpired reports whether the expiration date is strictly in the past.
func (c *Clock) IsExpired(expiration models.Date) bool {
	today := c.Today()
	if expiration.Year() != today.Year() {
		return expiration.Year() < today.Year()
	}
	return expiration.YearDay() < today.YearDay()
}

// ExpiresToday reports whether the expiration date is today's exchange date.
func (c *Clock) ExpiresToday(expiration models.Date) bool {
	return expiration.Equal(c.Today())
}
