package workflow

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"relayci/src/contracts"
)

// Condition is a predicate over the triggering event. The zero value always holds.
//
// Expressions are one or more clauses joined by "&&":
//
//	always          always true
//	tag             ref is a tag
//	tag:<glob>      ref is a tag whose name matches glob
//	branch:<glob>   ref is a branch whose name matches glob
//	event:<kind>    event kind equals kind
//	action:<name>   event action equals name
type Condition struct {
	expr    string
	clauses []clause
}

type clause func(ev contracts.EventDescriptor) bool

// Always is the condition used when a stage or step declares none.
var Always = Condition{}

// ParseCondition compiles a condition expression.
func ParseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Always, nil
	}

	cond := Condition{expr: expr}
	for _, raw := range strings.Split(expr, "&&") {
		term := strings.TrimSpace(raw)
		c, err := parseClause(term)
		if err != nil {
			return Condition{}, &contracts.ConfigurationError{Field: "if", Reason: fmt.Sprintf("%q: %v", expr, err)}
		}
		if c != nil {
			cond.clauses = append(cond.clauses, c)
		}
	}
	return cond, nil
}

// MustParseCondition is like ParseCondition but panics on error.
func MustParseCondition(expr string) Condition {
	c, err := ParseCondition(expr)
	if err != nil {
		panic(err)
	}
	return c
}

func parseClause(term string) (clause, error) {
	name, arg, hasArg := strings.Cut(term, ":")
	name = strings.TrimSpace(name)
	arg = strings.TrimSpace(arg)
	if hasArg && arg == "" {
		return nil, fmt.Errorf("clause %q has an empty argument", term)
	}

	switch name {
	case "always":
		if hasArg {
			return nil, fmt.Errorf("always takes no argument")
		}
		return nil, nil
	case "tag":
		if !hasArg {
			return func(ev contracts.EventDescriptor) bool { return ev.IsTag() }, nil
		}
		if err := checkGlob(arg); err != nil {
			return nil, err
		}
		return func(ev contracts.EventDescriptor) bool {
			return ev.IsTag() && globMatch(arg, ev.TagName())
		}, nil
	case "branch":
		if !hasArg {
			return nil, fmt.Errorf("branch requires a pattern")
		}
		if err := checkGlob(arg); err != nil {
			return nil, err
		}
		return func(ev contracts.EventDescriptor) bool {
			b := ev.BranchName()
			return b != "" && globMatch(arg, b)
		}, nil
	case "event":
		kind, err := contracts.ParseEventKind(arg)
		if err != nil {
			return nil, err
		}
		return func(ev contracts.EventDescriptor) bool { return ev.Kind == kind }, nil
	case "action":
		if !hasArg {
			return nil, fmt.Errorf("action requires a name")
		}
		return func(ev contracts.EventDescriptor) bool { return ev.Action == arg }, nil
	case "":
		return nil, fmt.Errorf("empty clause")
	default:
		return nil, fmt.Errorf("unknown clause %q", name)
	}
}

// Matches reports whether every clause holds for ev.
func (c Condition) Matches(ev contracts.EventDescriptor) bool {
	for _, cl := range c.clauses {
		if !cl(ev) {
			return false
		}
	}
	return true
}

// String returns the source expression ("always" for the zero value).
func (c Condition) String() string {
	if c.expr == "" {
		return "always"
	}
	return c.expr
}

// UnmarshalYAML decodes a condition from a scalar expression.
func (c *Condition) UnmarshalYAML(value *yaml.Node) error {
	var expr string
	if err := value.Decode(&expr); err != nil {
		return fmt.Errorf("line %d: condition must be a string: %w", value.Line, err)
	}
	parsed, err := ParseCondition(expr)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML encodes the condition as its source expression.
func (c Condition) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

func checkGlob(pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	return nil
}

func globMatch(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
