// Package calendar answers whether the KRX is open on a given date.
package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02"

// Calendar knows weekends and the KRX holiday table. The zero value is not
// usable; construct with New or Load.
type Calendar struct {
	holidays map[string]struct{}
}

// New returns a calendar with the built-in holiday table.
func New() *Calendar {
	c := &Calendar{holidays: make(map[string]struct{})}
	for _, d := range builtinHolidays {
		c.holidays[d] = struct{}{}
	}
	return c
}

// Load returns a calendar extended with holidays from a YAML file of the form
//
//	holidays:
//	  - 2026-01-28
//	  - 2026-01-29
//
// Dates in the file are added on top of the built-in table.
func Load(path string) (*Calendar, error) {
	c := New()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading holiday file: %w", err)
	}
	var doc struct {
		Holidays []string `yaml:"holidays"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing holiday file: %w", err)
	}
	for _, d := range doc.Holidays {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", d, err)
		}
		c.holidays[d] = struct{}{}
	}
	return c, nil
}

// IsTradingDay reports whether t falls on a KRX session day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	// Fixed-date public holidays recur every year.
	md := t.Format("01-02")
	if _, ok := fixedHolidays[md]; ok {
		return false
	}
	_, holiday := c.holidays[t.Format(dateLayout)]
	return !holiday
}

// PrevTradingDay returns the last session day strictly before t.
func (c *Calendar) PrevTradingDay(t time.Time) time.Time {
	d := t.AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
