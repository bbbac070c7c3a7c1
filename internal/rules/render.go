package rules

import (
	"strconv"
	"strings"
)

// String renders the rule set the way the admin UI presents it.
func (rs RuleSet) String() string {
	if rs.Empty() {
		return "no completion rules configured\n"
	}
	rs = rs.normalized()

	var b strings.Builder
	if rs.Mode == Combine {
		for i, g := range rs.Groups {
			if i > 0 {
				b.WriteString(string(rs.Operator))
				b.WriteString(" ")
			}
			b.WriteString("(")
			b.WriteString(g.String())
			b.WriteString(")\n")
		}
		return b.String()
	}

	for i, g := range rs.Groups {
		if i == 0 {
			b.WriteString("IF ")
		} else {
			b.WriteString("ELSE IF ")
		}
		b.WriteString(g.String())
		b.WriteString(" THEN complete\n")
	}
	b.WriteString("ELSE not complete\n")
	return b.String()
}

func (g Group) String() string {
	if len(g.Conditions) == 0 {
		return "false"
	}
	op := g.Operator
	if op == "" {
		op = And
	}
	parts := make([]string, 0, len(g.Conditions))
	for _, c := range g.Conditions {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, " "+string(op)+" ")
}

func (c Condition) String() string {
	return string(c.Metric) + " " + string(c.Op) + " " + strconv.FormatFloat(c.Value, 'f', -1, 64)
}
