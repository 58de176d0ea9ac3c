package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	omserrors "github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
)

type stubSource struct{ violations []risk.Violation }

func (s *stubSource) CheckCircuitBreakers() []risk.Violation { return s.violations }

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

func violation(t risk.ViolationType, s risk.Severity) risk.Violation {
	return risk.Violation{Type: t, Severity: s, Message: string(t) + " " + string(s)}
}

func newTestController(mode TradingMode) (*Controller, *stubSource, *stubClock) {
	source := &stubSource{}
	clock := &stubClock{now: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
	cfg := config.BreakerConfig{MinHaltDuration: config.D(5 * time.Minute), ReduceFactor: 0.5}
	return NewController(cfg, mode, source, nil, clock.Now), source, clock
}

func TestControllerDecisions(t *testing.T) {
	tests := []struct {
		name       string
		violations []risk.Violation
		want       Action
		halted     bool
	}{
		{name: "no violations", want: ActionContinue},
		{name: "medium warns", violations: []risk.Violation{violation(risk.ViolationTradeCount, risk.SeverityMedium)}, want: ActionWarn},
		{name: "high volatility reduces", violations: []risk.Violation{violation(risk.ViolationVolatility, risk.SeverityHigh)}, want: ActionReduce},
		{name: "high exposure halts", violations: []risk.Violation{violation(risk.ViolationExposure, risk.SeverityHigh)}, want: ActionHalt, halted: true},
		{name: "high consecutive losses halts", violations: []risk.Violation{violation(risk.ViolationConsecutiveLosses, risk.SeverityHigh)}, want: ActionHalt, halted: true},
		{name: "critical halts", violations: []risk.Violation{
			violation(risk.ViolationDrawdown, risk.SeverityCritical),
			violation(risk.ViolationVolatility, risk.SeverityHigh),
		}, want: ActionHalt, halted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, source, _ := newTestController(ModeLive)
			source.violations = tt.violations

			d := c.Evaluate()
			assert.Equal(t, tt.want, d.Action)
			assert.Equal(t, tt.halted, c.IsHalted())
			if tt.halted {
				assert.Equal(t, ModeHalt, c.Mode())
			}
		})
	}
}

func TestControllerReduceMultiplier(t *testing.T) {
	c, source, _ := newTestController(ModeLive)
	source.violations = []risk.Violation{violation(risk.ViolationVolatility, risk.SeverityHigh)}
	c.Evaluate()
	assert.Equal(t, 0.5, c.SizeMultiplier())

	source.violations = []risk.Violation{violation(risk.ViolationVolatility, risk.SeverityMedium)}
	c.Evaluate()
	assert.Equal(t, 1.0, c.SizeMultiplier())
}

func TestControllerHighPolicyOverride(t *testing.T) {
	source := &stubSource{violations: []risk.Violation{violation(risk.ViolationExposure, risk.SeverityHigh)}}
	cfg := config.BreakerConfig{HighPolicy: map[string]string{"exposure": "reduce"}}
	c := NewController(cfg, ModeLive, source, nil, nil)

	assert.Equal(t, ActionReduce, c.Evaluate().Action)
	assert.False(t, c.IsHalted())
}

func TestControllerHaltHysteresis(t *testing.T) {
	c, source, clock := newTestController(ModeLive)
	source.violations = []risk.Violation{violation(risk.ViolationDrawdown, risk.SeverityCritical)}
	require.Equal(t, ActionHalt, c.Evaluate().Action)

	// violations clear immediately, still halted
	source.violations = nil
	clock.now = clock.now.Add(time.Minute)
	assert.Equal(t, ActionHalt, c.Evaluate().Action)
	assert.True(t, c.IsHalted())

	clock.now = clock.now.Add(3*time.Minute + 59*time.Second)
	assert.Equal(t, ActionHalt, c.Evaluate().Action)
	assert.True(t, c.IsHalted())

	clock.now = clock.now.Add(time.Second)
	assert.Equal(t, ActionContinue, c.Evaluate().Action)
	assert.False(t, c.IsHalted())
	assert.Equal(t, ModePaper, c.Mode())
}

func TestControllerStaysHaltedWhileViolationsPersist(t *testing.T) {
	c, source, clock := newTestController(ModeLive)
	source.violations = []risk.Violation{violation(risk.ViolationExposure, risk.SeverityHigh)}
	c.Evaluate()

	clock.now = clock.now.Add(time.Hour)
	assert.Equal(t, ActionHalt, c.Evaluate().Action)
	assert.True(t, c.IsHalted())
}

func TestControllerManualKillSwitch(t *testing.T) {
	c, source, clock := newTestController(ModeLive)

	var changes []ModeChange
	c.OnModeChange(func(mc ModeChange) { changes = append(changes, mc) })

	c.Halt("operator")
	assert.True(t, c.IsHalted())
	assert.True(t, c.State().ManualHalt)

	// a manual halt is never lifted by evaluation
	clock.now = clock.now.Add(time.Hour)
	assert.Equal(t, ActionHalt, c.Evaluate().Action)

	err := c.Resume("operator")
	require.NoError(t, err)
	assert.False(t, c.IsHalted())
	assert.Equal(t, ModePaper, c.Mode())

	require.Len(t, changes, 2)
	assert.Equal(t, ModeLive, changes[0].From)
	assert.Equal(t, ModeHalt, changes[0].To)
	assert.True(t, changes[0].Manual)
	assert.Equal(t, ModePaper, changes[1].To)
	_ = source
}

func TestControllerManualResumeRespectsHysteresis(t *testing.T) {
	c, source, clock := newTestController(ModeLive)
	c.Halt("operator")

	clock.now = clock.now.Add(time.Minute)
	err := c.Resume("operator")
	require.Error(t, err)
	assert.True(t, omserrors.IsCategory(err, omserrors.ErrorCategoryRisk))
	assert.True(t, c.IsHalted())

	clock.now = clock.now.Add(10 * time.Minute)
	source.violations = []risk.Violation{violation(risk.ViolationConsecutiveLosses, risk.SeverityHigh)}
	err = c.Resume("operator")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still active")

	source.violations = []risk.Violation{violation(risk.ViolationTradeCount, risk.SeverityMedium)}
	require.NoError(t, c.Resume("operator"))
	assert.Equal(t, ModePaper, c.Mode())
}

func TestControllerPromoteLive(t *testing.T) {
	c, source, clock := newTestController(ModePaper)

	err := c.PromoteLive("operator")
	require.Error(t, err)

	clock.now = clock.now.Add(5 * time.Minute)
	source.violations = []risk.Violation{violation(risk.ViolationExposure, risk.SeverityHigh)}
	require.Error(t, c.PromoteLive("operator"))

	source.violations = nil
	require.NoError(t, c.PromoteLive("operator"))
	assert.Equal(t, ModeLive, c.Mode())

	c.Halt("again")
	assert.Error(t, c.PromoteLive("operator"))
}

func TestControllerViolationCallbacks(t *testing.T) {
	c, source, _ := newTestController(ModeLive)
	var seen []risk.ViolationType
	c.OnViolation(func(v risk.Violation) { seen = append(seen, v.Type) })

	source.violations = []risk.Violation{
		violation(risk.ViolationTradeCount, risk.SeverityMedium),
		violation(risk.ViolationCorrelation, risk.SeverityMedium),
	}
	assert.Equal(t, ActionWarn, c.Evaluate().Action)
	assert.Equal(t, []risk.ViolationType{risk.ViolationTradeCount, risk.ViolationCorrelation}, seen)
	assert.False(t, c.IsHalted())
}
