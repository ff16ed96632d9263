package merge

import "github.com/casys-kaist/bask-ae-eurosys26/rmap"

// shouldSkip implements should_skip(volatility_score, age, skip_cnt) from
// spec.md §4.6: if item.SkipCnt is already charged, this cycle skips
// hashing/merging (the caller is responsible for decrementing SkipCnt when
// this returns true). Otherwise the budget recharges from skipVolatile for
// next cycle and this cycle proceeds normally.
func shouldSkip(item *rmap.Item) bool {
	if item.SkipCnt > 0 {
		return true
	}
	item.SkipCnt = skipVolatile(item.VolatilityScore, item.Age)
	return false
}

// skipVolatile implements skip_volatile(volatility_score, age) from
// spec.md §4.6: 0 if volatility_score is 0, otherwise a monotonic mapping
// of volatility_score+age into a skip budget.
func skipVolatile(volatilityScore int32, age uint64) int32 {
	if volatilityScore == 0 {
		return 0
	}
	sum := volatilityScore + int32(age)
	switch {
	case sum < 3:
		return 1
	case sum == 3:
		return 2
	case sum == 4:
		return 4
	default:
		return 8
	}
}
