package rules

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// #region comparator
// Comparator is the condition a rule tests against the setpoint.
type Comparator string

const (
	Above   Comparator = "above"
	Below   Comparator = "below"
	EqualTo Comparator = "equal_to"
)

// phrase returns the comparator as written in rule text.
func (c Comparator) phrase() string {
	if c == EqualTo {
		return "equal to"
	}
	return string(c)
}

// #endregion comparator

// #region adjustment
// Adjustment is the action a rule takes on its variable.
type Adjustment string

const (
	Increase Adjustment = "increase"
	Decrease Adjustment = "decrease"
	Maintain Adjustment = "maintain"
)

// #endregion adjustment

// #region rule
// Rule is one parsed condition-action pair scoped to a single state variable.
// Rules are values; nothing in the repository mutates one after parsing.
type Rule struct {
	Variable   string
	Comparator Comparator
	Adjustment Adjustment
	Amount     float64
	Label      string // optional "using ..." clause
	Text       string // source text, empty for programmatic rules
}

// Delta returns the signed change the rule applies when it fires.
func (r Rule) Delta() float64 {
	switch r.Adjustment {
	case Increase:
		return r.Amount
	case Decrease:
		return -r.Amount
	default:
		return 0
	}
}

// Validate checks a rule built in code rather than by Parse.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Variable) == "" {
		return errors.New("rule has empty variable")
	}
	switch r.Comparator {
	case Above, Below, EqualTo:
	default:
		return fmt.Errorf("rule %q: unknown comparator %q", r.Variable, r.Comparator)
	}
	switch r.Adjustment {
	case Increase, Decrease, Maintain:
	default:
		return fmt.Errorf("rule %q: unknown adjustment %q", r.Variable, r.Adjustment)
	}
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) || r.Amount < 0 {
		return fmt.Errorf("rule %q: amount %v must be a finite non-negative number", r.Variable, r.Amount)
	}
	return nil
}

// String renders the rule in the canonical sentence form accepted by Parse.
func (r Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "If the %s is %s the setpoint, then %s the %s by %s",
		r.Variable, r.Comparator.phrase(), r.Adjustment, r.Variable,
		strconv.FormatFloat(r.Amount, 'f', -1, 64))
	if r.Label != "" {
		fmt.Fprintf(&b, ", using %s", r.Label)
	}
	b.WriteString(".")
	return b.String()
}

// #endregion rule

// #region parse-error
// Sentinel errors for the three ways a rule text can be rejected.
var (
	ErrUnrecognized     = errors.New("rule text does not match the rule grammar")
	ErrVariableMismatch = errors.New("condition and action name different variables")
	ErrMalformedAmount  = errors.New("adjustment amount is missing or not a non-negative integer")
)

// ErrorKind enumerates ParseError categories.
type ErrorKind string

const (
	KindUnrecognized     ErrorKind = "unrecognized"
	KindVariableMismatch ErrorKind = "variable_mismatch"
	KindMalformedAmount  ErrorKind = "malformed_amount"
)

// ParseError reports why a rule text was rejected.
type ParseError struct {
	Kind   ErrorKind
	Text   string
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("parse rule %q: %s", e.Text, e.Kind)
	}
	return fmt.Sprintf("parse rule %q: %s: %s", e.Text, e.Kind, e.Detail)
}

// Unwrap maps the kind onto its sentinel so callers can use errors.Is.
func (e *ParseError) Unwrap() error {
	switch e.Kind {
	case KindVariableMismatch:
		return ErrVariableMismatch
	case KindMalformedAmount:
		return ErrMalformedAmount
	default:
		return ErrUnrecognized
	}
}

// #endregion parse-error
