// Package rules evaluates entity behavior rules against a snapshot of sense
// data. Evaluation is pure: no I/O, no clocks other than the context's Now.
package rules

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/auralink/proactive/internal/datastore/entities"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
)

// Result reasons.
const (
	ReasonMatched     = "matched"
	ReasonNotMatched  = "condition_not_met"
	ReasonCooldown    = "cooldown"
	ReasonError       = "error"
	ReasonRateLimited = "rate_limited"
	ReasonQueueFailed = "queue_failed"
)

// maxTriggerDepth bounds compound nesting so a cyclic or hostile rule
// definition cannot recurse without limit.
const maxTriggerDepth = 16

// ErrMalformedTrigger is wrapped by evaluation errors caused by an invalid
// trigger definition rather than by the data.
var ErrMalformedTrigger = errors.NewStd("malformed trigger")

// Result is the outcome of evaluating one rule.
type Result struct {
	RuleID    uint
	Rule      *entities.BehaviorRule
	Triggered bool
	Reason    string
	Message   string
	Priority  int
	Channels  []entities.Channel
	Err       error
}

// Engine evaluates behavior rules. It holds no per-run state and is safe for
// concurrent use.
type Engine struct {
	log logger.Logger
}

// NewEngine creates a rule engine. A nil logger discards output.
func NewEngine(log logger.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{log: log}
}

// EvaluateRules evaluates the enabled rules and returns the triggered ones,
// highest priority first. Rules with equal priority keep their input order.
func (e *Engine) EvaluateRules(rules []entities.BehaviorRule, rctx *Context) []Result {
	_, triggered := e.Evaluate(rules, rctx)
	return triggered
}

// Evaluate returns the result of every enabled rule in input order, plus the
// triggered subset in priority order.
func (e *Engine) Evaluate(rules []entities.BehaviorRule, rctx *Context) (all, triggered []Result) {
	all = make([]Result, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		res := e.EvaluateRule(rule, rctx)
		all = append(all, res)
		if res.Triggered {
			triggered = append(triggered, res)
		}
	}
	slices.SortStableFunc(triggered, func(a, b Result) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return all, triggered
}

// EvaluateRule evaluates a single rule. Errors and panics are contained in
// the result; the rule is then reported as not triggered.
func (e *Engine) EvaluateRule(rule *entities.BehaviorRule, rctx *Context) (res Result) {
	res = Result{
		RuleID:   rule.ID,
		Rule:     rule,
		Priority: rule.Action.Priority,
		Channels: rule.Action.Channels,
	}

	defer func() {
		if r := recover(); r != nil {
			res.Triggered = false
			res.Reason = ReasonError
			res.Message = ""
			res.Err = evaluationError(rule.ID, fmt.Errorf("panic: %v", r))
			e.log.Error("rule evaluation panicked",
				logger.Uint64("rule_id", uint64(rule.ID)),
				logger.Error(res.Err))
		}
	}()

	matched, err := evalTrigger(&rule.Trigger, rule.StrictEquality, rctx, 0)
	if err != nil {
		res.Reason = ReasonError
		res.Err = evaluationError(rule.ID, err)
		e.log.Warn("rule evaluation failed",
			logger.Uint64("rule_id", uint64(rule.ID)),
			logger.Error(err))
		return res
	}
	if !matched {
		res.Reason = ReasonNotMatched
		return res
	}

	if InCooldown(rule, rctx.LastTriggered, rctx.Now) {
		res.Reason = ReasonCooldown
		return res
	}

	res.Triggered = true
	res.Reason = ReasonMatched
	res.Message = RenderMessage(rule.Action, rctx)
	return res
}

// InCooldown reports whether rule last triggered less than its cooldown ago.
func InCooldown(rule *entities.BehaviorRule, lastTriggered map[uint]time.Time, now time.Time) bool {
	if rule.CooldownSec <= 0 {
		return false
	}
	last, ok := lastTriggered[rule.ID]
	if !ok {
		return false
	}
	return now.Sub(last) < rule.Cooldown()
}

func evaluationError(ruleID uint, err error) error {
	return errors.New(err).
		Component("rules").
		Category(errors.CategoryEvaluation).
		Context("rule_id", ruleID).
		Build()
}
