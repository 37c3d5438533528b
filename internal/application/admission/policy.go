// Package admission decides whether an inbound request may proceed.
package admission

import (
	"sort"
	"strings"

	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/infrastructure/ratelimit"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
)

// RouteRule maps every route starting with Prefix to Class.
type RouteRule struct {
	Prefix string
	Class  constants.RouteClass
}

// PolicyTable resolves a route to its class and limit. It is immutable once
// built; swap a whole table to change policy.
type PolicyTable struct {
	limits map[constants.RouteClass]ratelimit.Limit
	rules  []RouteRule
}

// NewPolicyTable validates limits and rules. The default class must be
// present, every limit must be positive and every rule must name a known
// class.
func NewPolicyTable(limits map[constants.RouteClass]ratelimit.Limit, rules []RouteRule) (*PolicyTable, error) {
	if _, ok := limits[constants.RouteClassDefault]; !ok {
		return nil, errors.ErrInvalidConfig("rate_limit.classes.default", "is required")
	}
	t := &PolicyTable{
		limits: make(map[constants.RouteClass]ratelimit.Limit, len(limits)),
		rules:  make([]RouteRule, 0, len(rules)),
	}
	for class, l := range limits {
		if err := l.Validate("rate_limit.classes." + string(class)); err != nil {
			return nil, err
		}
		t.limits[class] = l
	}
	for _, r := range rules {
		if r.Prefix == "" {
			return nil, errors.ErrInvalidConfig("rate_limit.routes.prefix", "must not be empty")
		}
		if _, ok := t.limits[r.Class]; !ok {
			return nil, errors.ErrInvalidConfig("rate_limit.routes."+r.Prefix, "unknown class "+string(r.Class))
		}
		t.rules = append(t.rules, r)
	}
	sort.SliceStable(t.rules, func(i, j int) bool {
		return len(t.rules[i].Prefix) > len(t.rules[j].Prefix)
	})
	return t, nil
}

// DefaultPolicyTable returns a table with only the default class.
func DefaultPolicyTable() *PolicyTable {
	t, _ := NewPolicyTable(map[constants.RouteClass]ratelimit.Limit{
		constants.RouteClassDefault: {Requests: constants.DefaultRateLimit, Window: constants.DefaultRateLimitWindow},
	}, nil)
	return t
}

// Resolve returns the class of the longest matching prefix, or the default
// class.
func (t *PolicyTable) Resolve(route string) (constants.RouteClass, ratelimit.Limit) {
	for _, r := range t.rules {
		if strings.HasPrefix(route, r.Prefix) {
			return r.Class, t.limits[r.Class]
		}
	}
	return constants.RouteClassDefault, t.limits[constants.RouteClassDefault]
}

// Limit returns the limit of class.
func (t *PolicyTable) Limit(class constants.RouteClass) (ratelimit.Limit, bool) {
	l, ok := t.limits[class]
	return l, ok
}

// Classes returns the configured classes in name order.
func (t *PolicyTable) Classes() []constants.RouteClass {
	out := make([]constants.RouteClass, 0, len(t.limits))
	for c := range t.limits {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PolicyTableFromConfig builds a table from the rate_limit config section.
func PolicyTableFromConfig(cfg *config.RateLimitConfig) (*PolicyTable, error) {
	limits := make(map[constants.RouteClass]ratelimit.Limit, len(cfg.Classes))
	for _, cl := range cfg.Classes {
		class := constants.RouteClass(cl.Name)
		if _, dup := limits[class]; dup {
			return nil, errors.ErrInvalidConfig("rate_limit.classes."+cl.Name, "duplicate class")
		}
		limits[class] = ratelimit.Limit{Requests: cl.Limit, Window: cl.Window()}
	}
	rules := make([]RouteRule, 0, len(cfg.Routes))
	for _, r := range cfg.Routes {
		rules = append(rules, RouteRule{Prefix: r.Prefix, Class: constants.RouteClass(r.Class)})
	}
	return NewPolicyTable(limits, rules)
}
