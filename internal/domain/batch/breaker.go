package batch

import "fmt"

// breaker counts item failures within one run. It trips on either too many
// consecutive failures or too many failures overall and never resets.
type breaker struct {
	maxConsecutive int
	maxTotal       int
	consecutive    int
	total          int
}

func newBreaker(maxConsecutive, maxTotal int) *breaker {
	return &breaker{maxConsecutive: maxConsecutive, maxTotal: maxTotal}
}

func (b *breaker) recordSuccess() {
	b.consecutive = 0
}

func (b *breaker) recordFailure() {
	b.consecutive++
	b.total++
}

// tripped reports whether a limit was reached and which one.
func (b *breaker) tripped() (bool, string) {
	switch {
	case b.maxConsecutive > 0 && b.consecutive >= b.maxConsecutive:
		return true, fmt.Sprintf("%d consecutive extraction errors", b.consecutive)
	case b.maxTotal > 0 && b.total >= b.maxTotal:
		return true, fmt.Sprintf("%d extraction errors in run", b.total)
	}
	return false, ""
}
