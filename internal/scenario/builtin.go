package scenario

import (
	"fmt"
	"sort"
)

var builtins = map[string]func() *Scenario{
	"temperature": temperature,
	"bar-fight":   barFight,
}

// BuiltinNames lists the bundled scenarios.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a fresh copy of a bundled scenario.
func Builtin(name string) (*Scenario, error) {
	mk, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("unknown builtin scenario %q (have %v)", name, BuiltinNames())
	}
	return mk(), nil
}

// temperature is the generic thermostat: a room at 10 driven to 5.
func temperature() *Scenario {
	return &Scenario{
		Name:         "temperature",
		Description:  "Room temperature driven to its setpoint under small symmetric noise.",
		InitialState: map[string]float64{"temperature": 10},
		Setpoint:     map[string]float64{"temperature": 5},
		Rules: []string{
			"If the temperature is above the setpoint, then decrease the temperature by 2.",
			"If the temperature is below the setpoint, then increase the temperature by 1.",
			"If the temperature is equal to the setpoint, then maintain the temperature by 0.",
		},
		Perturbation: Perturbation{Chance: 0.2, Min: -1, Max: 1},
	}
}

// barFight calms a bar: aggression only ever rises on its own and is never
// pushed below zero.
func barFight() *Scenario {
	return &Scenario{
		Name:         "bar-fight",
		Description:  "Bar aggression calmed to zero while rowdy patrons keep raising it.",
		InitialState: map[string]float64{"aggression level": 8},
		Setpoint:     map[string]float64{"aggression level": 0},
		Rules: []string{
			"If the aggression level is above the setpoint, then decrease the aggression level by 2 using calming music.",
			"If the aggression level is below the setpoint, then increase the aggression level by 1 using upbeat tunes.",
			"If the aggression level is equal to the setpoint, then maintain the aggression level by 0 using standard service.",
		},
		Perturbation: Perturbation{Chance: 0.3, Min: 0, Max: 2, ClampToFloor: true, Floor: 0},
		Engine:       Engine{ClampToFloor: true, Floor: 0},
	}
}
