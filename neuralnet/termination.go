package neuralnet

import "time"

// Termination is checked after every completed epoch; training stops when it
// returns true. epoch is the number of epochs completed so far.
type Termination func(epoch int) bool

func MaxEpochs(n int) Termination {
	return func(epoch int) bool {
		return epoch >= n
	}
}

// TimeBudget stops once another epoch of average length would overrun budget.
// The clock starts when TimeBudget is called; now defaults to time.Now.
func TimeBudget(budget time.Duration, now func() time.Time) Termination {
	if now == nil {
		now = time.Now
	}
	start := now()
	return func(epoch int) bool {
		elapsed := now().Sub(start)
		if elapsed >= budget || epoch <= 0 {
			return elapsed >= budget
		}
		avg := elapsed / time.Duration(epoch)
		return elapsed+avg > budget
	}
}

// AnyOf stops as soon as one of ts does. Nil entries are ignored.
func AnyOf(ts ...Termination) Termination {
	return func(epoch int) bool {
		for _, t := range ts {
			if t != nil && t(epoch) {
				return true
			}
		}
		return false
	}
}
