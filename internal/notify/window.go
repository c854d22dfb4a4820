package notify

import "time"

// IsDue reports whether deadline falls in the notification window that ends
// lookahead after now: now < deadline <= now+lookahead. A non-positive
// lookahead matches nothing.
func IsDue(now, deadline time.Time, lookahead time.Duration) bool {
	if lookahead <= 0 {
		return false
	}
	return now.Before(deadline) && !deadline.After(now.Add(lookahead))
}
