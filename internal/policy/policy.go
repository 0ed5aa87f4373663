// Package policy defines the per-instance schedule policy carried in the
// cheapskate tag and the codec that reads and writes it.
package policy

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimeLayout is the minute-precision layout used for the off and req keys.
const TimeLayout = "2006-01-02T15:04"

// Group controls whether an instance is eligible for automatic shutdown.
type Group int

const (
	GroupDefaultOff    Group = 0
	GroupDefaultOn     Group = 1
	GroupBusinessHours Group = 2
)

var (
	// ErrMalformedEntry is returned when a tag entry has no '=' separator.
	ErrMalformedEntry = errors.New("malformed policy entry")
	// ErrInvalidGroup is returned when grp is not an integer.
	ErrInvalidGroup = errors.New("invalid group")
	// ErrNoDeadline means the policy has no off time set.
	ErrNoDeadline = errors.New("no deadline")
	// ErrDeadlineParse means a stored timestamp does not match TimeLayout.
	ErrDeadlineParse = errors.New("deadline parse")
)

// String returns the display name of the group.
func (g Group) String() string {
	switch g {
	case GroupDefaultOff:
		return "Default Off"
	case GroupDefaultOn:
		return "Default On"
	case GroupBusinessHours:
		return "Business Hours"
	default:
		return fmt.Sprintf("Unknown(%d)", int(g))
	}
}

// Valid reports whether g is one of the known groups.
func (g Group) Valid() bool {
	return g >= GroupDefaultOff && g <= GroupBusinessHours
}

// ParseGroup parses the wire form of a group ("0", "1", "2").
// Integers outside the known set are accepted so they survive a round trip.
func ParseGroup(s string) (Group, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return GroupDefaultOn, fmt.Errorf("%w: %q", ErrInvalidGroup, s)
	}
	return Group(n), nil
}

// SchedulePolicy is the decoded form of the cheapskate tag.
//
// OffAt and RequestedAt hold the stored wire values so that a timestamp the
// engine cannot parse is carried through untouched instead of being erased.
type SchedulePolicy struct {
	Group       Group
	Requester   string
	OffAt       string
	RequestedAt string
}

// Default returns the policy applied to instances without a tag.
func Default() SchedulePolicy {
	return SchedulePolicy{Group: GroupDefaultOn}
}

// Deadline parses OffAt in loc.
func (p SchedulePolicy) Deadline(loc *time.Location) (time.Time, error) {
	return parseStamp(p.OffAt, loc)
}

// Requested parses RequestedAt in loc.
func (p SchedulePolicy) Requested(loc *time.Location) (time.Time, error) {
	return parseStamp(p.RequestedAt, loc)
}

// SetDeadline stores t, truncated to the minute, as OffAt.
func (p *SchedulePolicy) SetDeadline(t time.Time) {
	p.OffAt = FormatStamp(t)
}

// SetRequested stores t, truncated to the minute, as RequestedAt.
func (p *SchedulePolicy) SetRequested(t time.Time) {
	p.RequestedAt = FormatStamp(t)
}

// FormatStamp renders t in TimeLayout.
func FormatStamp(t time.Time) string {
	return t.Format(TimeLayout)
}

func parseStamp(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, ErrNoDeadline
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(TimeLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrDeadlineParse, raw, err)
	}
	return t, nil
}
