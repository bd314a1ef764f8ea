package billing

// Status is the provider-reported lifecycle state of a subscription.
// The raw provider value is preserved verbatim so new lifecycle states
// flow through untouched; Known reports whether the value belongs to the
// closed set this package understands.
type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"

	// StatusUnknown is reported by Kind for values outside the closed set.
	StatusUnknown Status = "unknown"
)

// ParseStatus wraps a provider status without rewriting it, so the cached
// value matches what the provider reported.
func ParseStatus(raw string) Status {
	return Status(raw)
}

// canonical folds provider spellings onto the constants above.
// Paddle reports "cancelled" where Stripe reports "canceled".
func (s Status) canonical() Status {
	if s == "cancelled" {
		return StatusCanceled
	}
	return s
}

// Known reports whether s is one of the lifecycle states listed above.
func (s Status) Known() bool {
	switch s.canonical() {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled,
		StatusUnpaid, StatusIncomplete, StatusIncompleteExpired, StatusPaused:
		return true
	default:
		return false
	}
}

// Kind returns the canonical lifecycle state, collapsing unrecognized
// values into StatusUnknown.
func (s Status) Kind() Status {
	if s.Known() {
		return s.canonical()
	}
	return StatusUnknown
}

// IsEntitled reports whether the subscription currently grants paid access.
func (s Status) IsEntitled() bool {
	k := s.Kind()
	return k == StatusActive || k == StatusTrialing
}

// IsTerminal reports whether the subscription can no longer become active
// without a new checkout.
func (s Status) IsTerminal() bool {
	k := s.Kind()
	return k == StatusCanceled || k == StatusIncompleteExpired
}

func (s Status) String() string {
	return string(s)
}
