package rules

import "encoding/json"

// Outcome is the tri-state result of evaluating a rule set. Indeterminate
// means no rules are configured; callers must not treat it as False.
type Outcome int8

const (
	Indeterminate Outcome = iota
	False
	True
)

// Known reports whether the outcome is True or False.
func (o Outcome) Known() bool {
	return o != Indeterminate
}

// Ptr returns nil for Indeterminate, otherwise a pointer to the boolean value.
func (o Outcome) Ptr() *bool {
	if o == Indeterminate {
		return nil
	}
	b := o == True
	return &b
}

func (o Outcome) String() string {
	switch o {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "indeterminate"
	}
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Ptr())
}

// Values are the fill metrics a rule set is evaluated against.
type Values struct {
	Bottles   int
	ProfitSEK float64
}

// Get returns the value for metric m.
func (v Values) Get(m Metric) float64 {
	switch m {
	case MetricBottles:
		return float64(v.Bottles)
	case MetricProfitSEK:
		return v.ProfitSEK
	default:
		panic("rules: unknown metric " + string(m))
	}
}

// Evaluate decides whether the rule set considers the pallet complete.
func Evaluate(rs RuleSet, v Values) Outcome {
	if rs.Empty() {
		return Indeterminate
	}
	rs = rs.normalized()

	if rs.Mode == Combine {
		switch rs.Operator {
		case Or:
			for _, g := range rs.Groups {
				if g.Evaluate(v) {
					return True
				}
			}
			return False
		default:
			for _, g := range rs.Groups {
				if !g.Evaluate(v) {
					return False
				}
			}
			return True
		}
	}

	for _, g := range rs.Groups {
		if g.Evaluate(v) {
			return True
		}
	}
	return False
}

// Evaluate combines the group's conditions. An empty group is false.
func (g Group) Evaluate(v Values) bool {
	if len(g.Conditions) == 0 {
		return false
	}
	if g.Operator == Or {
		for _, c := range g.Conditions {
			if c.Evaluate(v) {
				return true
			}
		}
		return false
	}
	for _, c := range g.Conditions {
		if !c.Evaluate(v) {
			return false
		}
	}
	return true
}

// Evaluate compares the metric value against the condition's constant.
func (c Condition) Evaluate(v Values) bool {
	x := v.Get(c.Metric)
	switch c.Op {
	case OpGTE:
		return x >= c.Value
	case OpGT:
		return x > c.Value
	case OpLTE:
		return x <= c.Value
	case OpLT:
		return x < c.Value
	default:
		panic("rules: unknown comparison " + string(c.Op))
	}
}

// Explanation describes how an outcome was reached.
type Explanation struct {
	Outcome Outcome `json:"outcome"`
	Mode    Mode    `json:"mode"`
	// Groups holds every group's result, in order.
	Groups []bool `json:"groups"`
	// Matched is the index of the first true group, or -1.
	Matched int `json:"matched"`
}

// Explain evaluates every group and reports which one decided the outcome.
func Explain(rs RuleSet, v Values) Explanation {
	rs = rs.normalized()
	exp := Explanation{
		Outcome: Evaluate(rs, v),
		Mode:    rs.Mode,
		Groups:  make([]bool, len(rs.Groups)),
		Matched: -1,
	}
	for i, g := range rs.Groups {
		exp.Groups[i] = g.Evaluate(v)
		if exp.Groups[i] && exp.Matched < 0 {
			exp.Matched = i
		}
	}
	return exp
}
