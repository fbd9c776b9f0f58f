package rate

import "time"

// Window represents a provider rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Hour
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	default:
		return time.Minute
	}
}

// Declaration describes the client-side budget for one upstream provider.
type Declaration struct {
	provider   string
	limits     map[Window]int
	retryAfter string
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, retryAfter: "Retry-After"}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPer caps outgoing requests per window. A limit <= 0 removes the cap.
func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	if limit > 0 {
		limits[window] = limit
	} else {
		delete(limits, window)
	}
	d.limits = limits
	return d
}

// RetryAfterHeader overrides the response header that carries a cooldown in seconds.
func (d Declaration) RetryAfterHeader(name string) Declaration {
	d.retryAfter = name
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}
