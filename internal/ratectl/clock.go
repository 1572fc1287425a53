package ratectl

import "time"

// MMTime is a caller-supplied media-time timestamp, in milliseconds, tied to
// the client's playback clock. It is never comparable to the monotonic
// server-side clock used elsewhere in this package — the only permitted
// cross-use is subtracting two MMTime values to get a signed duration.
type MMTime int64

// Sub returns t-u as a signed count of milliseconds.
func (t MMTime) Sub(u MMTime) int64 {
	return int64(t) - int64(u)
}

// Clock is the monotonic time source the controller consults. Production
// code uses the standard library clock; tests inject a fake one so admission
// and probe-timing scenarios are deterministic.
type Clock interface {
	Now() time.Time
}

// systemClock reads the real monotonic clock via time.Now().
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock used outside of tests.
var SystemClock Clock = systemClock{}
