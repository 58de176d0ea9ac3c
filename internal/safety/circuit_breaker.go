package safety

import (
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-oms/internal/config"
	omserrors "github.com/ducminhle1904/crypto-oms/internal/errors"
	"github.com/ducminhle1904/crypto-oms/internal/logger"
	"github.com/ducminhle1904/crypto-oms/internal/risk"
)

// TradingMode decides where orders go, if anywhere
type TradingMode string

const (
	ModeLive  TradingMode = "live"
	ModePaper TradingMode = "paper"
	ModeHalt  TradingMode = "halt"
)

// Action is the outcome of one evaluation cycle
type Action string

const (
	ActionContinue Action = "continue"
	ActionWarn     Action = "warn"
	ActionReduce   Action = "reduce"
	ActionHalt     Action = "halt"
)

// ViolationSource is read by the controller; it never writes to it
type ViolationSource interface {
	CheckCircuitBreakers() []risk.Violation
}

// BreakerState is a snapshot of the controller
type BreakerState struct {
	IsHalted      bool             `json:"is_halted"`
	HaltReason    string           `json:"halt_reason,omitempty"`
	HaltTimestamp time.Time        `json:"halt_timestamp,omitempty"`
	ManualHalt    bool             `json:"manual_halt"`
	LastCheck     time.Time        `json:"last_check"`
	Violations    []risk.Violation `json:"violations"`
	Mode          TradingMode      `json:"mode"`
	ModeSince     time.Time        `json:"mode_since"`
	Reducing      bool             `json:"reducing"`
}

// Decision is what Evaluate concluded
type Decision struct {
	Action     Action
	Reason     string
	Violations []risk.Violation
}

// ModeChange describes a trading mode transition
type ModeChange struct {
	From   TradingMode
	To     TradingMode
	Reason string
	Manual bool
	At     time.Time
}

var defaultHighPolicy = map[risk.ViolationType]Action{
	risk.ViolationExposure:          ActionHalt,
	risk.ViolationDrawdown:          ActionHalt,
	risk.ViolationConsecutiveLosses: ActionHalt,
}

// Controller turns risk violations into halt, reduce, warn or continue, with
// hysteresis on the way back from a halt. Resume always lands in paper mode.
type Controller struct {
	minHalt      time.Duration
	reduceFactor float64
	highPolicy   map[risk.ViolationType]Action
	source       ViolationSource
	logger       *logger.Logger
	clock        func() time.Time

	mu           sync.RWMutex
	state        BreakerState
	onViolation  []func(risk.Violation)
	onModeChange []func(ModeChange)
}

// NewController creates a breaker controller starting in the given mode
func NewController(cfg config.BreakerConfig, mode TradingMode, source ViolationSource, log *logger.Logger, clock func() time.Time) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	if mode != ModeLive {
		mode = ModePaper
	}

	policy := make(map[risk.ViolationType]Action, len(defaultHighPolicy))
	for k, v := range defaultHighPolicy {
		policy[k] = v
	}
	for k, v := range cfg.HighPolicy {
		switch Action(v) {
		case ActionHalt, ActionReduce:
			policy[risk.ViolationType(k)] = Action(v)
		}
	}

	reduce := cfg.ReduceFactor
	if reduce <= 0 || reduce > 1 {
		reduce = 0.5
	}

	return &Controller{
		minHalt:      cfg.MinHaltDuration.Duration,
		reduceFactor: reduce,
		highPolicy:   policy,
		source:       source,
		logger:       log.Component("breaker"),
		clock:        clock,
		state:        BreakerState{Mode: mode, ModeSince: clock()},
	}
}

// OnViolation registers a callback for every violation seen by Evaluate
func (c *Controller) OnViolation(fn func(risk.Violation)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onViolation = append(c.onViolation, fn)
}

// OnModeChange registers a callback for mode transitions
func (c *Controller) OnModeChange(fn func(ModeChange)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onModeChange = append(c.onModeChange, fn)
}

// Evaluate runs one check cycle
func (c *Controller) Evaluate() Decision {
	violations := c.source.CheckCircuitBreakers()
	now := c.clock()

	c.mu.Lock()
	c.state.LastCheck = now
	c.state.Violations = violations

	var change *ModeChange
	decision := c.decideLocked(violations)

	switch decision.Action {
	case ActionHalt:
		if !c.state.IsHalted {
			change = c.haltLocked(decision.Reason, false, now)
		} else if !c.state.ManualHalt && c.canResumeLocked(violations, now) == nil {
			change = c.resumeLocked("violations cleared after minimum halt duration", false, now)
			decision = Decision{Action: ActionContinue, Reason: change.Reason, Violations: violations}
		}
	case ActionReduce:
		c.state.Reducing = true
	default:
		c.state.Reducing = false
	}

	callbacks := c.onViolation
	modeCallbacks := c.onModeChange
	c.mu.Unlock()

	for _, v := range violations {
		for _, fn := range callbacks {
			fn(v)
		}
	}
	if change != nil {
		for _, fn := range modeCallbacks {
			fn(*change)
		}
	}
	return decision
}

// decideLocked maps violations to an action. An existing halt stays a halt.
func (c *Controller) decideLocked(violations []risk.Violation) Decision {
	d := Decision{Action: ActionContinue, Violations: violations}

	if c.state.IsHalted {
		d.Action = ActionHalt
		d.Reason = c.state.HaltReason
		return d
	}

	for _, v := range violations {
		if v.Severity == risk.SeverityCritical {
			d.Action = ActionHalt
			d.Reason = fmt.Sprintf("%s: %s", v.Type, v.Message)
			return d
		}
	}

	for _, v := range violations {
		if v.Severity != risk.SeverityHigh {
			continue
		}
		policy, ok := c.highPolicy[v.Type]
		if !ok {
			policy = ActionReduce
		}
		if policy == ActionHalt {
			d.Action = ActionHalt
			d.Reason = fmt.Sprintf("%s: %s", v.Type, v.Message)
			return d
		}
		if d.Action != ActionReduce {
			d.Action = ActionReduce
			d.Reason = fmt.Sprintf("%s: %s", v.Type, v.Message)
		}
	}
	if d.Action == ActionReduce {
		return d
	}

	if len(violations) > 0 {
		d.Action = ActionWarn
		d.Reason = violations[0].Message
	}
	return d
}

func (c *Controller) haltLocked(reason string, manual bool, now time.Time) *ModeChange {
	change := &ModeChange{From: c.state.Mode, To: ModeHalt, Reason: reason, Manual: manual, At: now}
	c.state.IsHalted = true
	c.state.ManualHalt = manual
	c.state.HaltReason = reason
	c.state.HaltTimestamp = now
	c.state.Mode = ModeHalt
	c.state.ModeSince = now
	c.state.Reducing = false
	c.logger.LogError("Trading halted", fmt.Errorf("%s", reason))
	return change
}

func (c *Controller) resumeLocked(reason string, manual bool, now time.Time) *ModeChange {
	change := &ModeChange{From: c.state.Mode, To: ModePaper, Reason: reason, Manual: manual, At: now}
	c.state.IsHalted = false
	c.state.ManualHalt = false
	c.state.HaltReason = ""
	c.state.Mode = ModePaper
	c.state.ModeSince = now
	c.logger.Info("Trading resumed in paper mode: %s", reason)
	return change
}

// canResumeLocked checks hysteresis and the fresh violation list
func (c *Controller) canResumeLocked(violations []risk.Violation, now time.Time) error {
	if elapsed := now.Sub(c.state.HaltTimestamp); elapsed < c.minHalt {
		return omserrors.New(omserrors.ErrorCategoryRisk, "breaker", "resume",
			fmt.Sprintf("halted %s ago, minimum is %s", elapsed.Round(time.Second), c.minHalt)).WithCode("HALT_HYSTERESIS")
	}
	return blocking(violations, "resume")
}

func blocking(violations []risk.Violation, op string) error {
	for _, v := range violations {
		if v.Severity == risk.SeverityCritical || v.Severity == risk.SeverityHigh {
			return omserrors.New(omserrors.ErrorCategoryRisk, "breaker", op,
				fmt.Sprintf("%s violation still active: %s", v.Severity, v.Message)).WithCode("VIOLATIONS_ACTIVE")
		}
	}
	return nil
}

// Halt is the manual kill switch. It bypasses evaluation.
func (c *Controller) Halt(reason string) {
	now := c.clock()
	c.mu.Lock()
	var change *ModeChange
	if !c.state.IsHalted || !c.state.ManualHalt {
		change = c.haltLocked(reason, true, now)
	}
	callbacks := c.onModeChange
	c.mu.Unlock()

	if change != nil {
		for _, fn := range callbacks {
			fn(*change)
		}
	}
}

// Resume lifts a halt once the minimum halt duration has passed and a fresh
// check shows no critical or high violations. Trading continues in paper mode.
func (c *Controller) Resume(reason string) error {
	violations := c.source.CheckCircuitBreakers()
	now := c.clock()

	c.mu.Lock()
	if !c.state.IsHalted {
		c.mu.Unlock()
		return nil
	}
	c.state.LastCheck = now
	c.state.Violations = violations
	if err := c.canResumeLocked(violations, now); err != nil {
		c.mu.Unlock()
		return err
	}
	change := c.resumeLocked(reason, true, now)
	callbacks := c.onModeChange
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(*change)
	}
	return nil
}

// PromoteLive moves paper trading back to live after the hysteresis interval
// with a clean re-check.
func (c *Controller) PromoteLive(reason string) error {
	violations := c.source.CheckCircuitBreakers()
	now := c.clock()

	c.mu.Lock()
	switch c.state.Mode {
	case ModeLive:
		c.mu.Unlock()
		return nil
	case ModeHalt:
		c.mu.Unlock()
		return omserrors.New(omserrors.ErrorCategoryRisk, "breaker", "promote_live", "trading is halted").WithCode("HALTED")
	}
	if elapsed := now.Sub(c.state.ModeSince); elapsed < c.minHalt {
		c.mu.Unlock()
		return omserrors.New(omserrors.ErrorCategoryRisk, "breaker", "promote_live",
			fmt.Sprintf("paper for %s, minimum is %s", elapsed.Round(time.Second), c.minHalt)).WithCode("HALT_HYSTERESIS")
	}
	if err := blocking(violations, "promote_live"); err != nil {
		c.mu.Unlock()
		return err
	}

	change := ModeChange{From: ModePaper, To: ModeLive, Reason: reason, Manual: true, At: now}
	c.state.Mode = ModeLive
	c.state.ModeSince = now
	callbacks := c.onModeChange
	c.mu.Unlock()

	c.logger.Info("Trading promoted to live: %s", reason)
	for _, fn := range callbacks {
		fn(change)
	}
	return nil
}

// IsHalted reports whether trading is halted
func (c *Controller) IsHalted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.IsHalted
}

// Mode returns the current trading mode
func (c *Controller) Mode() TradingMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Mode
}

// SizeMultiplier returns the reduce factor while reducing, else 1
func (c *Controller) SizeMultiplier() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Reducing {
		return c.reduceFactor
	}
	return 1
}

// State returns a snapshot of the controller
func (c *Controller) State() BreakerState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	s.Violations = append([]risk.Violation(nil), c.state.Violations...)
	return s
}
