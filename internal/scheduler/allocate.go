package scheduler

import (
	"fmt"
	"sort"

	"github.com/distfs/rfspeer/internal/rfserr"
)

// Allocate computes the piece allocation r_i for each session given its
// measured ping in microseconds (nil meaning unusable/unreachable), and
// n total pieces to distribute.
//
// Weight w_i = 1/ping_i for sessions with a ping, 0 otherwise.
// r_i = round((w_i/W)*n), then the largest-remainder method repairs any
// rounding drift so that sum(r_i) == n exactly: never panics on a
// mismatch, unlike the source this protocol was distilled from.
//
// Fails rfserr.ErrNoReachablePeers if every ping is nil (W == 0) and n >
// 0, since there is then no usable weight to distribute pieces over.
func Allocate(pingsMicros []*uint64, n int) ([]int, error) {
	if n == 0 {
		return make([]int, len(pingsMicros)), nil
	}
	if len(pingsMicros) == 0 {
		return nil, fmt.Errorf("%w: no sessions to allocate pieces over", rfserr.ErrNoReachablePeers)
	}

	weights := make([]float64, len(pingsMicros))
	var total float64
	for i, p := range pingsMicros {
		if p == nil {
			continue
		}
		ping := *p
		if ping == 0 {
			// a sub-microsecond round trip still counts as reachable
			ping = 1
		}
		weights[i] = 1.0 / float64(ping)
		total += weights[i]
	}

	if total == 0 {
		return nil, fmt.Errorf("%w: no session has a usable ping", rfserr.ErrNoReachablePeers)
	}

	type share struct {
		index     int
		exact     float64
		rounded   int
		remainder float64
	}

	shares := make([]share, len(weights))
	sum := 0
	for i, w := range weights {
		exact := (w / total) * float64(n)
		rounded := int(exact + 0.5)
		shares[i] = share{index: i, exact: exact, rounded: rounded, remainder: exact - float64(rounded)}
		sum += rounded
	}

	diff := n - sum
	if diff > 0 {
		// Sum undershot n: give one more piece each to the sessions
		// with the largest fractional remainder, largest first.
		sort.SliceStable(shares, func(a, b int) bool { return shares[a].remainder > shares[b].remainder })
		for i := 0; i < diff; i++ {
			shares[i%len(shares)].rounded++
		}
	} else if diff < 0 {
		// Sum overshot n: take one away from the sessions with the
		// smallest (most negative) fractional remainder first.
		sort.SliceStable(shares, func(a, b int) bool { return shares[a].remainder < shares[b].remainder })
		need := -diff
		for i := 0; need > 0; i = (i + 1) % len(shares) {
			if shares[i].rounded > 0 {
				shares[i].rounded--
				need--
			}
		}
	}

	result := make([]int, len(pingsMicros))
	for _, s := range shares {
		result[s.index] = s.rounded
	}

	return result, nil
}

// Range is a half-open, contiguous index range [Start, End) of pieces
// assigned to one session.
type Range struct {
	Start, End int
}

// ContiguousRanges turns a per-session allocation into disjoint,
// contiguous piece-index ranges in session order: session 0 gets
// [0, r0), session 1 gets [r0, r0+r1), and so on.
func ContiguousRanges(allocation []int) []Range {
	ranges := make([]Range, len(allocation))
	cursor := 0
	for i, r := range allocation {
		ranges[i] = Range{Start: cursor, End: cursor + r}
		cursor += r
	}
	return ranges
}
