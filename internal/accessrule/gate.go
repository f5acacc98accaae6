// Package accessrule holds the access rules consulted before an attempt is
// started or resumed, and when deciding whether to show the time left.
package accessrule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"quiz-attempt-engine/internal/domain"
)

// ErrDuplicateRule is returned when a rule name is registered twice.
var ErrDuplicateRule = errors.New("access rule already registered")

// Rule is the capability table of one access rule. Any nil function is a no-op
// for that capability.
type Rule struct {
	Name string

	IsPreflightRequired func(ctx context.Context, quiz domain.Quiz, attempt *domain.Attempt, prefetch bool) (bool, error)
	FixedPreflightData  func(ctx context.Context, quiz domain.Quiz, attempt *domain.Attempt, data domain.PreflightData, prefetch bool) error
	ShouldShowTimeLeft  func(attempt domain.Attempt, endTime, now time.Time) bool
	NotifyPassed        func(ctx context.Context, quiz domain.Quiz, attempt *domain.Attempt, data domain.PreflightData, prefetch bool) error
	NotifyFailed        func(ctx context.Context, quiz domain.Quiz, attempt *domain.Attempt, data domain.PreflightData, prefetch bool) error
}

// Gate is a registry of access rules keyed by name.
type Gate struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rules map[string]Rule
}

// NewGate builds a gate with the given rules registered.
func NewGate(logger *slog.Logger, rules ...Rule) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{logger: logger, rules: make(map[string]Rule)}
	for _, rule := range rules {
		if err := g.Register(rule); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Register adds a rule.
func (g *Gate) Register(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("access rule without name")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.rules[rule.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, rule.Name)
	}
	g.rules[rule.Name] = rule
	return nil
}

// IsSupported reports whether a rule with the name is registered.
func (g *Gate) IsSupported(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.rules[name]
	return ok
}

// Unsupported returns the names that have no registered rule, sorted.
func (g *Gate) Unsupported(names []string) []string {
	var out []string
	for _, name := range names {
		if !g.IsSupported(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Gate) active(names []string) []Rule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rules := make([]Rule, 0, len(names))
	for _, name := range names {
		if rule, ok := g.rules[name]; ok {
			rules = append(rules, rule)
		}
	}
	return rules
}

// IsPreflightRequired reports whether any active rule needs user supplied data.
// A rule that fails to answer counts as not requiring it.
func (g *Gate) IsPreflightRequired(ctx context.Context, names []string, quiz domain.Quiz, attempt *domain.Attempt, prefetch bool) bool {
	for _, rule := range g.active(names) {
		if rule.IsPreflightRequired == nil {
			continue
		}
		required, err := rule.IsPreflightRequired(ctx, quiz, attempt, prefetch)
		if err != nil {
			g.logger.Warn("preflight check failed", "rule", rule.Name, "quiz_id", quiz.ID, "error", err)
			continue
		}
		if required {
			return true
		}
	}
	return false
}

// GetFixedPreflightData merges the data rules can provide without asking the
// user into a copy of data.
func (g *Gate) GetFixedPreflightData(ctx context.Context, names []string, quiz domain.Quiz, data domain.PreflightData, attempt *domain.Attempt, prefetch bool) domain.PreflightData {
	merged := data.Clone()
	for _, rule := range g.active(names) {
		if rule.FixedPreflightData == nil {
			continue
		}
		if err := rule.FixedPreflightData(ctx, quiz, attempt, merged, prefetch); err != nil {
			g.logger.Warn("fixed preflight data failed", "rule", rule.Name, "quiz_id", quiz.ID, "error", err)
		}
	}
	return merged
}

// ShouldShowTimeLeft reports whether any active rule wants the remaining time
// displayed. Attempts that are not in progress never show it.
func (g *Gate) ShouldShowTimeLeft(names []string, attempt domain.Attempt, endTime, now time.Time) bool {
	if attempt.State != domain.StateInProgress {
		return false
	}
	for _, rule := range g.active(names) {
		if rule.ShouldShowTimeLeft != nil && rule.ShouldShowTimeLeft(attempt, endTime, now) {
			return true
		}
	}
	return false
}

// NotifyPreflightCheckPassed tells the rules the preflight data was accepted.
func (g *Gate) NotifyPreflightCheckPassed(ctx context.Context, names []string, quiz domain.Quiz, attempt *domain.Attempt, data domain.PreflightData, prefetch bool) {
	for _, rule := range g.active(names) {
		if rule.NotifyPassed == nil {
			continue
		}
		if err := rule.NotifyPassed(ctx, quiz, attempt, data, prefetch); err != nil {
			g.logger.Warn("notify preflight passed", "rule", rule.Name, "quiz_id", quiz.ID, "error", err)
		}
	}
}

// NotifyPreflightCheckFailed tells the rules the preflight data was rejected.
func (g *Gate) NotifyPreflightCheckFailed(ctx context.Context, names []string, quiz domain.Quiz, attempt *domain.Attempt, data domain.PreflightData, prefetch bool) {
	for _, rule := range g.active(names) {
		if rule.NotifyFailed == nil {
			continue
		}
		if err := rule.NotifyFailed(ctx, quiz, attempt, data, prefetch); err != nil {
			g.logger.Warn("notify preflight failed", "rule", rule.Name, "quiz_id", quiz.ID, "error", err)
		}
	}
}
