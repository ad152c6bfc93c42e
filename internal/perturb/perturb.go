package perturb

import (
	"math/rand/v2"

	"github.com/danielpatrickdp/homeostat/internal/state"
)

// #region source
// Source applies randomized disturbances under a Policy. The random
// generator is injected so runs can be reproduced from a seed.
type Source struct {
	policy Policy
	rng    *rand.Rand
}

// NewSource creates a source drawing from rng. A nil rng gets a randomly
// seeded generator.
func NewSource(policy Policy, rng *rand.Rand) *Source {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Source{policy: policy, rng: rng}
}

// NewSeededSource creates a source whose draws are fully determined by seed.
func NewSeededSource(policy Policy, seed uint64) *Source {
	return NewSource(policy, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// Policy returns the policy the source was built with.
func (s *Source) Policy() Policy {
	return s.policy
}

// #endregion source

// #region perturb
// Perturb returns a disturbed copy of st and one Event per variable that
// changed. Each variable gets an independent Bernoulli trial with
// probability Policy.Chance; variables are visited in sorted order so the
// same seed always disturbs the same variables. st is not modified.
func (s *Source) Perturb(st state.State) (state.State, []Event) {
	next := st.Clone()
	if s.policy.Chance <= 0 {
		return next, nil
	}

	var events []Event
	for _, name := range st.Keys() {
		if s.rng.Float64() >= s.policy.Chance {
			continue
		}
		noise := s.policy.Min + s.rng.Float64()*(s.policy.Max-s.policy.Min)
		before := next[name]
		after := before + noise
		if s.policy.ClampToFloor && after < s.policy.Floor {
			after = s.policy.Floor
		}
		next[name] = after
		events = append(events, Event{
			Variable: name,
			Delta:    noise,
			Before:   before,
			After:    after,
		})
	}
	return next, events
}

// #endregion perturb
