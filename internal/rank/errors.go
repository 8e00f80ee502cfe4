package rank

import "errors"

// Sentinel errors shared across subsystems. Configuration errors are fatal
// to a single claim attempt; transient errors are retried to the attempt cap.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveConfig means a business has no usable measurement config.
	ErrNoActiveConfig = errors.New("no active measurement config")

	// ErrNoUsableOrigin means the config has no origin zone to sample from.
	ErrNoUsableOrigin = errors.New("no usable origin zone")

	// ErrNoUsableKeyword means the config has no keyword to sample from.
	ErrNoUsableKeyword = errors.New("no usable keyword")

	// ErrSlotUnavailable means a requested time-of-day does not fit inside
	// any open window for the schedule's weekday.
	ErrSlotUnavailable = errors.New("requested slot does not fit business hours")

	// ErrBotChallenge means the fetched page was a CAPTCHA or bot wall.
	ErrBotChallenge = errors.New("bot challenge detected")
)
