package kernel

import "math/big"

// PicosecondsFromRatio computes round(numerator/denominator) picoseconds
// using exact rational arithmetic, so that the same (numerator,
// denominator) pair truncates to the same integer Time on every host
// regardless of float64 rounding. Channel transmit scheduling (distance
// / speed-of-light, both of which are naturally rational once expressed
// in fixed-point meters and an integer-picoseconds-per-meter constant)
// uses this instead of float division, per the open question in §9 on
// drifting delivery times under naive float64 arithmetic.
func PicosecondsFromRatio(numerator, denominator *big.Int) Time {
	if denominator.Sign() == 0 {
		return 0
	}
	q := new(big.Rat).SetFrac(numerator, denominator)
	// round-half-up on the truncated rational, matching the source's
	// documented intent of consistent (not just truncating) rounding.
	num := q.Num()
	den := q.Denom()
	half := new(big.Int).Rsh(den, 1)
	n2 := new(big.Int).Add(num, half)
	whole := new(big.Int).Quo(n2, den)
	return Time(whole.Int64())
}

// CFiberPsPerMeter is the one-way propagation delay of light in
// standard telecom fiber, in picoseconds per meter (group index ~1.5).
const CFiberPsPerMeter = 5005 // ps/m, i.e. ~5 ns per meter

// PropagationDelay returns the picosecond delay for a photon or
// classical signal to cross distanceMeters of fiber, computed via
// exact rational arithmetic so two hosts never disagree on rounding.
func PropagationDelay(distanceMeters float64) Time {
	// distanceMeters is taken as exact to 6 decimal digits: topology
	// files specify distances in meters with sub-meter precision at
	// most, so scaling by 1e6 and using integer rationals is exact.
	const scale = 1_000_000
	num := big.NewRat(int64(distanceMeters*scale), scale)
	num.Mul(num, big.NewRat(CFiberPsPerMeter, 1))
	return PicosecondsFromRatio(num.Num(), num.Denom())
}
