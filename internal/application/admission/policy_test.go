package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/infrastructure/ratelimit"
	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
)

func testLimits() map[constants.RouteClass]ratelimit.Limit {
	return map[constants.RouteClass]ratelimit.Limit{
		constants.RouteClassDefault: {Requests: 100, Window: time.Minute},
		constants.RouteClassAdmin:   {Requests: 10, Window: time.Minute},
		constants.RouteClassSession: {Requests: 1000, Window: time.Minute},
	}
}

func TestPolicyTable_Resolve(t *testing.T) {
	table, err := NewPolicyTable(testLimits(), []RouteRule{
		{Prefix: "/admin", Class: constants.RouteClassAdmin},
		{Prefix: "/admin/sessions", Class: constants.RouteClassSession},
		{Prefix: "/api/session", Class: constants.RouteClassSession},
	})
	require.NoError(t, err)

	tests := []struct {
		route string
		class constants.RouteClass
		limit uint64
	}{
		{"/api/items", constants.RouteClassDefault, 100},
		{"/admin/users", constants.RouteClassAdmin, 10},
		{"/admin/sessions/42", constants.RouteClassSession, 1000},
		{"/api/session/validate", constants.RouteClassSession, 1000},
		{"/", constants.RouteClassDefault, 100},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			class, limit := table.Resolve(tt.route)
			assert.Equal(t, tt.class, class)
			assert.Equal(t, tt.limit, limit.Requests)
		})
	}

	assert.Equal(t, []constants.RouteClass{"admin", "default", "session"}, table.Classes())
	l, ok := table.Limit(constants.RouteClassAdmin)
	assert.True(t, ok)
	assert.Equal(t, uint64(10), l.Requests)
}

func TestNewPolicyTable_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		limits map[constants.RouteClass]ratelimit.Limit
		rules  []RouteRule
	}{
		{
			name:   "missing default",
			limits: map[constants.RouteClass]ratelimit.Limit{constants.RouteClassAdmin: {Requests: 1, Window: time.Second}},
		},
		{
			name:   "zero limit",
			limits: map[constants.RouteClass]ratelimit.Limit{constants.RouteClassDefault: {Requests: 0, Window: time.Second}},
		},
		{
			name:   "zero window",
			limits: map[constants.RouteClass]ratelimit.Limit{constants.RouteClassDefault: {Requests: 5}},
		},
		{
			name:   "unknown class",
			limits: testLimits(),
			rules:  []RouteRule{{Prefix: "/x", Class: "reports"}},
		},
		{
			name:   "empty prefix",
			limits: testLimits(),
			rules:  []RouteRule{{Prefix: "", Class: constants.RouteClassAdmin}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicyTable(tt.limits, tt.rules)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
		})
	}
}

func TestDefaultPolicyTable(t *testing.T) {
	class, limit := DefaultPolicyTable().Resolve("/anything")
	assert.Equal(t, constants.RouteClassDefault, class)
	assert.Equal(t, ratelimit.Limit{Requests: constants.DefaultRateLimit, Window: constants.DefaultRateLimitWindow}, limit)
}

func TestPolicyTableFromConfig(t *testing.T) {
	cfg := &config.RateLimitConfig{
		Classes: []config.ClassConfig{
			{Name: "default", Limit: 100, WindowMs: 60000},
			{Name: "admin", Limit: 3, WindowMs: 1000},
		},
		Routes: []config.RouteConfig{{Prefix: "/api/v1/admin", Class: "admin"}},
	}
	table, err := PolicyTableFromConfig(cfg)
	require.NoError(t, err)

	class, limit := table.Resolve("/api/v1/admin/users")
	assert.Equal(t, constants.RouteClassAdmin, class)
	assert.Equal(t, ratelimit.Limit{Requests: 3, Window: time.Second}, limit)

	class, _ = table.Resolve("/api/v1/ids")
	assert.Equal(t, constants.RouteClassDefault, class)

	cfg.Classes = append(cfg.Classes, config.ClassConfig{Name: "admin", Limit: 1, WindowMs: 1})
	_, err = PolicyTableFromConfig(cfg)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}
