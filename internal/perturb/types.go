package perturb

import (
	"fmt"
	"math"
)

// #region policy
// Policy controls how often and how hard each variable is disturbed.
type Policy struct {
	Chance       float64 // per-variable probability of a disturbance each tick, [0,1]
	Min          float64 // lower bound of the uniform noise draw
	Max          float64 // upper bound of the uniform noise draw
	ClampToFloor bool    // raise values below Floor back to Floor after noise
	Floor        float64
}

// SymmetricPolicy disturbs values by noise drawn from [-magnitude, magnitude).
func SymmetricPolicy(chance, magnitude float64) Policy {
	return Policy{Chance: chance, Min: -magnitude, Max: magnitude}
}

// EscalatingPolicy only ever adds noise in [0, magnitude) and keeps values
// non-negative, for quantities like tension that build up on their own.
func EscalatingPolicy(chance, magnitude float64) Policy {
	return Policy{Chance: chance, Min: 0, Max: magnitude, ClampToFloor: true, Floor: 0}
}

// NoPerturbation never disturbs anything.
func NoPerturbation() Policy {
	return Policy{}
}

// DefaultPolicy matches the generic homeostat: 20% chance of noise in [-1, 1).
func DefaultPolicy() Policy {
	return SymmetricPolicy(0.2, 1)
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	for name, v := range map[string]float64{"chance": p.Chance, "min": p.Min, "max": p.Max, "floor": p.Floor} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("perturbation %s %v is not finite", name, v)
		}
	}
	if p.Chance < 0 || p.Chance > 1 {
		return fmt.Errorf("perturbation chance %v outside [0,1]", p.Chance)
	}
	if p.Min > p.Max {
		return fmt.Errorf("perturbation range [%v, %v] is inverted", p.Min, p.Max)
	}
	return nil
}

// #endregion policy

// #region event
// Event records one disturbance applied to one variable.
type Event struct {
	Variable string
	Delta    float64 // noise drawn, before any floor clamp
	Before   float64
	After    float64
}

// #endregion event
