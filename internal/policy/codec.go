package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Recognized tag keys, in wire order.
const (
	KeyGroup     = "grp"
	KeyUser      = "user"
	KeyOff       = "off"
	KeyRequested = "req"
)

const (
	entrySep = "/"
	kvSep    = "="
)

// Keys lists the recognized keys in the order Encode writes them.
var Keys = []string{KeyGroup, KeyUser, KeyOff, KeyRequested}

// Decode parses a tag value of the form "grp=2/user=bob/off=...".
//
// Values are overlaid onto Default(). Unrecognized keys are dropped and
// blank segments are ignored. Whitespace around keys and the group number
// is tolerated; the other values are kept verbatim so they round-trip.
// An entry without '=' or a non-numeric group rejects the whole tag: the
// returned policy is Default() and the error wraps ErrMalformedEntry or
// ErrInvalidGroup.
func Decode(raw string) (SchedulePolicy, error) {
	p := Default()
	if strings.TrimSpace(raw) == "" {
		return p, nil
	}

	values := make(map[string]string, len(Keys))
	for _, entry := range strings.Split(raw, entrySep) {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, kvSep)
		if !ok {
			return Default(), fmt.Errorf("%w: %q", ErrMalformedEntry, entry)
		}
		values[strings.TrimSpace(key)] = value
	}

	if v, ok := values[KeyGroup]; ok {
		g, err := ParseGroup(strings.TrimSpace(v))
		if err != nil {
			return Default(), err
		}
		p.Group = g
	}
	if v, ok := values[KeyUser]; ok {
		p.Requester = v
	}
	if v, ok := values[KeyOff]; ok {
		p.OffAt = v
	}
	if v, ok := values[KeyRequested]; ok {
		p.RequestedAt = v
	}
	return p, nil
}

// Encode renders p back into the tag wire format. Every recognized key is
// written, including empty ones, so the output always decodes to p.
func Encode(p SchedulePolicy) string {
	entries := []string{
		KeyGroup + kvSep + strconv.Itoa(int(p.Group)),
		KeyUser + kvSep + p.Requester,
		KeyOff + kvSep + p.OffAt,
		KeyRequested + kvSep + p.RequestedAt,
	}
	return strings.Join(entries, entrySep)
}

// Fields returns the policy as the recognized key/value pairs. It feeds the
// flattened output record.
func (p SchedulePolicy) Fields() map[string]string {
	return map[string]string{
		KeyGroup:     strconv.Itoa(int(p.Group)),
		KeyUser:      p.Requester,
		KeyOff:       p.OffAt,
		KeyRequested: p.RequestedAt,
	}
}
