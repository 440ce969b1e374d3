// Package alert provides the CEL-Go based alert rule engine. Rules
// are boolean expressions over the facts of a finished anomaly report
// and decide which reports warrant a notification.
package alert

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates alert rules. Rules can be reloaded at
// runtime; evaluation takes a read lock only.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.AlertRule
	Program cel.Program
}

// NewEngine creates an alert engine with the report fact variables
// registered.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("critical_count", cel.IntType),
		cel.Variable("fraud_count", cel.IntType),
		cel.Variable("anomaly_count", cel.IntType),
		cel.Variable("top_score", cel.IntType),
		cel.Variable("summary", cel.StringType),
		cel.Variable("types", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.AlertRule) error {
	if rule == nil {
		return fmt.Errorf("alert rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *Engine) LoadRules(rules []*domain.AlertRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces the loaded rule set wholesale. This enables
// hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// Evaluate runs every loaded rule against a report and returns the
// results for the rules that fired or errored. Clean non-matches are
// omitted.
func (e *Engine) Evaluate(report *domain.AnomalyReport) []domain.AlertResult {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })

	activation := Facts(report)

	var results []domain.AlertResult
	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			results = append(results, domain.AlertResult{
				RuleID:   rule.Rule.ID,
				RuleName: rule.Rule.Name,
				Err:      fmt.Sprintf("evaluation error: %v", err),
			})
			continue
		}
		if triggered, ok := out.(types.Bool); ok && bool(triggered) {
			results = append(results, domain.AlertResult{
				RuleID:    rule.Rule.ID,
				RuleName:  rule.Rule.Name,
				Triggered: true,
				Severity:  rule.Rule.Severity,
				Message:   rule.Rule.Message,
			})
		}
	}

	return results
}

// Facts flattens a report into the CEL activation map.
func Facts(report *domain.AnomalyReport) map[string]any {
	fraud := 0
	topScore := 0
	typeSet := make(map[domain.AnomalyType]bool)
	for _, a := range report.Anomalies {
		if a.PossibleFraud {
			fraud++
		}
		if a.Score > topScore {
			topScore = a.Score
		}
		typeSet[a.Type] = true
	}
	typeList := make([]string, 0, len(typeSet))
	for _, t := range []domain.AnomalyType{
		domain.AnomalyAmount, domain.AnomalyTime, domain.AnomalyFrequency,
		domain.AnomalyDuplicate, domain.AnomalyBehavioral,
	} {
		if typeSet[t] {
			typeList = append(typeList, string(t))
		}
	}

	return map[string]any{
		"risk_score":     report.RiskScore,
		"critical_count": report.CriticalCount,
		"fraud_count":    fraud,
		"anomaly_count":  len(report.Anomalies),
		"top_score":      topScore,
		"summary":        report.Summary,
		"types":          typeList,
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the currently loaded rule definitions.
func (e *Engine) LoadedRules() []*domain.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.AlertRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close clears the loaded rule set.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.AlertRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile alert rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("alert rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for alert rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
