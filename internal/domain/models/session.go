package models

import (
	"fmt"
	"strings"
	"time"
)

// Device is the kind of client a session was started from.
type Device int

const (
	DeviceUnknown Device = iota
	DeviceMobile
	DeviceDesktop
)

func (d Device) String() string {
	switch d {
	case DeviceMobile:
		return "mobile"
	case DeviceDesktop:
		return "desktop"
	default:
		return "unknown"
	}
}

// ParseDevice accepts the names produced by String, case-insensitively.
func ParseDevice(s string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mobile":
		return DeviceMobile, nil
	case "desktop":
		return DeviceDesktop, nil
	default:
		return DeviceUnknown, fmt.Errorf("unknown device %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Device) MarshalText() ([]byte, error) {
	if d != DeviceMobile && d != DeviceDesktop {
		return nil, fmt.Errorf("cannot marshal device %d", int(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Device) UnmarshalText(text []byte) error {
	parsed, err := ParseDevice(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Session is the record queued under "session:<clientKey>".
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	StartedAt time.Time `json:"startedAt"`
	Device    Device    `json:"device"`
	Expiry    time.Time `json:"expiry"`
}

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.Expiry)
}
