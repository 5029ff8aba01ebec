package rating

import "math"

// Glicko-2 system constants. These are fixed policy, not per-game knobs:
// every update runs with the same system volatility and the same starting
// values the original site launched with.
const (
	DefaultRating     = 1500.0
	DefaultRD         = 350.0
	DefaultVolatility = 0.06

	tau         = 0.5      // system constant constraining volatility change
	scale       = 173.7178 // Glicko to Glicko-2 scale factor
	convergence = 1e-6
)

// opponent is one game against a single opponent on the Glicko-2 scale
type opponent struct {
	mu    float64
	phi   float64
	score float64 // 1 win, 0.5 draw, 0 loss
}

func toMu(rating float64) float64 { return (rating - DefaultRating) / scale }

func toPhi(rd float64) float64 { return rd / scale }

// g dampens an opponent's impact by their rating deviation
func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

// expected score against a single opponent
func expected(mu, muJ, phiJ float64) float64 {
	return 1 / (1 + math.Exp(-g(phiJ)*(mu-muJ)))
}

// updatePlayer runs one Glicko-2 rating period for a player against the
// given opponents and returns the post-period rating and deviation on the
// original Glicko scale. The computation is pure and deterministic.
func updatePlayer(r, rd float64, opps []opponent) (float64, float64) {
	mu := toMu(r)
	phi := toPhi(rd)

	var vInv, deltaSum float64
	for _, o := range opps {
		gj := g(o.phi)
		ej := expected(mu, o.mu, o.phi)
		vInv += gj * gj * ej * (1 - ej)
		deltaSum += gj * (o.score - ej)
	}

	if vInv == 0 {
		// No effective games: deviation grows, rating unchanged
		phiStar := math.Sqrt(phi*phi + DefaultVolatility*DefaultVolatility)
		return r, scale * phiStar
	}

	v := 1 / vInv
	delta := v * deltaSum

	sigmaPrime := newVolatility(phi, v, delta, DefaultVolatility)

	phiStar := math.Sqrt(phi*phi + sigmaPrime*sigmaPrime)
	phiPrime := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muPrime := mu + phiPrime*phiPrime*deltaSum

	return DefaultRating + scale*muPrime, scale * phiPrime
}

// newVolatility solves for the updated volatility with the Illinois variant
// of regula falsi, per Glickman's reference description of the algorithm.
func newVolatility(phi, v, delta, sigma float64) float64 {
	a := math.Log(sigma * sigma)
	phi2 := phi * phi
	delta2 := delta * delta

	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta2 - phi2 - v - ex)
		den := 2 * (phi2 + v + ex) * (phi2 + v + ex)
		return num/den - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta2 > phi2+v {
		B = math.Log(delta2 - phi2 - v)
	} else {
		k := 1.0
		for f(a-k*tau) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA := f(A)
	fB := f(B)
	for math.Abs(B-A) > convergence {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if fC*fB <= 0 {
			A = B
			fA = fB
		} else {
			fA /= 2
		}
		B = C
		fB = fC
	}

	return math.Exp(A / 2)
}
