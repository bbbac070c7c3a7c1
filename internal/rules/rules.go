// Package rules implements the pallet completion rule language.
//
// A RuleSet is a list of condition groups stored per pallet. Conditions compare
// a fill metric against a constant; groups combine conditions with AND/OR; the
// rule set combines groups either as an if/else-if chain (SEQUENTIAL) or with a
// single top-level operator (COMBINE). All enumerations are closed: decoding an
// unknown metric, comparison, operator or mode fails.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRuleSet is returned (wrapped) for any malformed rule set.
var ErrInvalidRuleSet = errors.New("invalid completion rules")

type Metric string

const (
	MetricBottles   Metric = "bottles"
	MetricProfitSEK Metric = "profit_sek"
)

type Op string

const (
	OpGTE Op = ">="
	OpGT  Op = ">"
	OpLTE Op = "<="
	OpLT  Op = "<"
)

type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

type Mode string

const (
	Sequential Mode = "SEQUENTIAL"
	Combine    Mode = "COMBINE"
)

// Condition compares one metric against a constant.
type Condition struct {
	Metric Metric  `json:"metric" yaml:"metric"`
	Op     Op      `json:"op" yaml:"op"`
	Value  float64 `json:"value" yaml:"value"`
}

// Group combines its conditions with Operator. An empty group is false.
type Group struct {
	Operator   Logic       `json:"operator" yaml:"operator"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// RuleSet is the completion_rules document stored on a pallet.
type RuleSet struct {
	Mode     Mode    `json:"mode" yaml:"mode"`
	Operator Logic   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Groups   []Group `json:"groups" yaml:"groups"`
}

// NewCondition builds a validated condition.
func NewCondition(metric Metric, op Op, value float64) (Condition, error) {
	c := Condition{Metric: metric, Op: op, Value: value}
	if err := c.validate(); err != nil {
		return Condition{}, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	return c, nil
}

// Parse decodes a JSON rule set and validates it. Empty input yields an empty
// rule set, which evaluates as Indeterminate.
func Parse(data []byte) (RuleSet, error) {
	var rs RuleSet
	if len(strings.TrimSpace(string(data))) == 0 || string(data) == "null" {
		return rs.normalized(), nil
	}
	if err := json.Unmarshal(data, &rs); err != nil {
		if errors.Is(err, ErrInvalidRuleSet) {
			return RuleSet{}, err
		}
		return RuleSet{}, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	rs = rs.normalized()
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// ParseYAML decodes a YAML rule set (same shape as the JSON form).
func ParseYAML(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		if errors.Is(err, ErrInvalidRuleSet) {
			return RuleSet{}, err
		}
		return RuleSet{}, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	rs = rs.normalized()
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Marshal returns the canonical JSON form.
func (rs RuleSet) Marshal() ([]byte, error) {
	rs = rs.normalized()
	if rs.Groups == nil {
		rs.Groups = []Group{}
	}
	for i := range rs.Groups {
		if rs.Groups[i].Conditions == nil {
			rs.Groups[i].Conditions = []Condition{}
		}
	}
	return json.Marshal(rs)
}

// Empty reports whether no groups are configured.
func (rs RuleSet) Empty() bool {
	return len(rs.Groups) == 0
}

// Validate checks every enumeration and value in the rule set.
func (rs RuleSet) Validate() error {
	var errs []error
	switch rs.Mode {
	case "", Sequential, Combine:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", rs.Mode))
	}
	if rs.Operator != "" && !rs.Operator.valid() {
		errs = append(errs, fmt.Errorf("unknown operator %q", rs.Operator))
	}
	for i, g := range rs.Groups {
		if g.Operator != "" && !g.Operator.valid() {
			errs = append(errs, fmt.Errorf("group %d: unknown operator %q", i, g.Operator))
		}
		for j, c := range g.Conditions {
			if err := c.validate(); err != nil {
				errs = append(errs, fmt.Errorf("group %d condition %d: %v", i, j, err))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidRuleSet, errors.Join(errs...))
}

// Normalized returns a copy with defaults filled in: SEQUENTIAL mode, AND for
// COMBINE's operator and for every group operator.
func (rs RuleSet) Normalized() RuleSet {
	return rs.normalized()
}

func (rs RuleSet) normalized() RuleSet {
	if rs.Mode == "" {
		rs.Mode = Sequential
	}
	if rs.Mode == Combine && rs.Operator == "" {
		rs.Operator = And
	}
	if rs.Groups != nil {
		groups := make([]Group, len(rs.Groups))
		copy(groups, rs.Groups)
		for i := range groups {
			if groups[i].Operator == "" {
				groups[i].Operator = And
			}
		}
		rs.Groups = groups
	}
	return rs
}

func (c Condition) validate() error {
	if !c.Metric.valid() {
		return fmt.Errorf("unknown metric %q", c.Metric)
	}
	if !c.Op.valid() {
		return fmt.Errorf("unknown comparison %q", c.Op)
	}
	if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
		return fmt.Errorf("value must be finite")
	}
	return nil
}

func (m Metric) valid() bool {
	switch m {
	case MetricBottles, MetricProfitSEK:
		return true
	}
	return false
}

func (o Op) valid() bool {
	switch o {
	case OpGTE, OpGT, OpLTE, OpLT:
		return true
	}
	return false
}

func (l Logic) valid() bool {
	return l == And || l == Or
}

func parseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	if !m.valid() {
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidRuleSet, s)
	}
	return m, nil
}

func parseOp(s string) (Op, error) {
	o := Op(strings.TrimSpace(s))
	if !o.valid() {
		return "", fmt.Errorf("%w: unknown comparison %q", ErrInvalidRuleSet, s)
	}
	return o, nil
}

func parseLogic(s string) (Logic, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	l := Logic(strings.ToUpper(strings.TrimSpace(s)))
	if !l.valid() {
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidRuleSet, s)
	}
	return l, nil
}

func parseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case "":
		return "", nil
	case Sequential, Combine:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRuleSet, s)
}

func (m *Metric) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, parseMetric, m)
}

func (o *Op) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, parseOp, o)
}

func (l *Logic) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, parseLogic, l)
}

func (m *Mode) UnmarshalJSON(b []byte) error {
	return unmarshalEnum(b, parseMode, m)
}

func (m *Metric) UnmarshalYAML(n *yaml.Node) error { return unmarshalYAMLEnum(n, parseMetric, m) }
func (o *Op) UnmarshalYAML(n *yaml.Node) error     { return unmarshalYAMLEnum(n, parseOp, o) }
func (l *Logic) UnmarshalYAML(n *yaml.Node) error  { return unmarshalYAMLEnum(n, parseLogic, l) }
func (m *Mode) UnmarshalYAML(n *yaml.Node) error   { return unmarshalYAMLEnum(n, parseMode, m) }

func unmarshalEnum[T ~string](b []byte, parse func(string) (T, error), dst *T) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func unmarshalYAMLEnum[T ~string](n *yaml.Node, parse func(string) (T, error), dst *T) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	v, err := parse(s)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
