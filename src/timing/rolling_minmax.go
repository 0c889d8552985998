package timing

import "time"

const windowMinutes = 60

// bucket holds the min/max durations observed in one minute
type bucket struct {
	min, max time.Duration
	set      bool
}

// RollingMinMax tracks min/max durations over a rolling one hour window
// using one bucket per minute
type RollingMinMax struct {
	buckets [windowMinutes]bucket
	last    int64 // absolute minute of the latest observation, -1 = none
}

// NewRollingMinMax creates an empty RollingMinMax
func NewRollingMinMax() *RollingMinMax {
	return &RollingMinMax{last: -1}
}

// Observe records a duration at the current time
func (r *RollingMinMax) Observe(d time.Duration) {
	r.observeAt(d, time.Now().Unix()/60)
}

// observeAt records a duration at the given absolute minute (for testing)
func (r *RollingMinMax) observeAt(d time.Duration, minute int64) {
	if minute != r.last {
		gap := minute - r.last
		if r.last < 0 || gap < 0 || gap >= windowMinutes {
			r.buckets = [windowMinutes]bucket{}
		} else {
			// Clear the minutes skipped since the last observation, and the new one
			for m := r.last + 1; m <= minute; m++ {
				r.buckets[m%windowMinutes] = bucket{}
			}
		}
		r.last = minute
	}

	b := &r.buckets[minute%windowMinutes]
	if !b.set {
		*b = bucket{min: d, max: d, set: true}
		return
	}
	b.min = min(b.min, d)
	b.max = max(b.max, d)
}

// Min returns the smallest duration in the window, or 0 if none
func (r *RollingMinMax) Min() time.Duration {
	var result time.Duration
	found := false
	for _, b := range r.buckets {
		if b.set && (!found || b.min < result) {
			result = b.min
			found = true
		}
	}
	return result
}

// Max returns the largest duration in the window, or 0 if none
func (r *RollingMinMax) Max() time.Duration {
	var result time.Duration
	for _, b := range r.buckets {
		if b.set {
			result = max(result, b.max)
		}
	}
	return result
}
