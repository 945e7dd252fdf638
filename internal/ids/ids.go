// Package ids mints the opaque identifiers used across CalDave.
package ids

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	EventPrefix    = "evt_"
	CalendarPrefix = "cal_"
	FeedPrefix     = "feed_"
	InboundPrefix  = "inb_"
)

func random(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("ids: crypto/rand unavailable: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(buf)
}

// token is a 32-hex-char secret derived from a random UUID.
func token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func NewEventID() string    { return EventPrefix + random(12) }
func NewCalendarID() string { return CalendarPrefix + random(12) }

func NewFeedToken() string    { return FeedPrefix + token() }
func NewInboundToken() string { return InboundPrefix + token() }
