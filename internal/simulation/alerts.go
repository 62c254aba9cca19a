package simulation

// Thresholds are the remaining-time marks (seconds) that raise an alert,
// in the order they are reached.
var Thresholds = []int{60, 30, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0}

// Alert reports that the remaining run time crossed a threshold.
type Alert struct {
	Seq              uint64  `json:"seq"`
	Run              int     `json:"run"`
	ThresholdSeconds int     `json:"threshold_s"`
	RemainingSeconds float64 `json:"remaining_s"`
}

// schedule tracks how far down the threshold list the current run has
// alerted. Only thresholds below the lowest one already fired may fire, so
// alerts of one run stay strictly decreasing even after a backward seek.
type schedule struct {
	next int // index into Thresholds of the first threshold still allowed
}

func newSchedule() *schedule {
	return &schedule{}
}

func (s *schedule) rearm() {
	s.next = 0
}

// crossed returns the allowed thresholds th with prev > th >= next, in
// decreasing order, and disallows them and everything above them.
func (s *schedule) crossed(prev, next float64) []int {
	var out []int
	for i := s.next; i < len(Thresholds); i++ {
		v := float64(Thresholds[i])
		if prev > v && v >= next {
			s.next = i + 1
			out = append(out, Thresholds[i])
		}
	}
	return out
}
