package loadtest

import (
	"fmt"
	"math/rand/v2"
)

// SampleExcluding returns an index drawn uniformly from [0, n-1] without
// except. It draws once from [0, n-2] and shifts draws at or above except up
// by one, so every remaining index has probability 1/(n-1).
//
// A negative except means no exclusion: the draw is uniform over [0, n-1].
// n < 2 and except >= n are InvariantErrors.
func SampleExcluding(rng *rand.Rand, n, except int) (int, error) {
	if except < 0 {
		if n < 1 {
			return 0, &InvariantError{Op: "SampleExcluding", Message: fmt.Sprintf("cannot sample from %d users", n)}
		}
		return rng.IntN(n), nil
	}
	if n < 2 {
		return 0, &InvariantError{
			Op:      "SampleExcluding",
			Message: fmt.Sprintf("need at least 2 users to exclude one, have %d", n),
		}
	}
	if except >= n {
		return 0, &InvariantError{
			Op:      "SampleExcluding",
			Message: fmt.Sprintf("excluded index %d out of range [0, %d)", except, n),
		}
	}

	draw := rng.IntN(n - 1)
	if draw >= except {
		draw++
	}
	return draw, nil
}
