// Package policy evaluates notification visibility with OPA.
package policy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"github.com/farmpulse/storepulse/internal/domain"
)

const evalTimeout = time.Second

// Engine is the OPA policy engine.
type Engine struct {
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := rego.New(
		rego.Query("data.notification_visibility.allow"),
		rego.Module("notification_visibility.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query, logger: logger.With(zap.String("component", "policy"))}, nil
}

// Load reads the policy at path, or uses DefaultPolicy when path is empty.
func Load(ctx context.Context, path string, logger *zap.Logger) (*Engine, error) {
	content := DefaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", path, err)
		}
		content = string(data)
	}
	return NewEngine(ctx, content, logger)
}

// Allow evaluates the policy for one viewer and event.
func (e *Engine) Allow(ctx context.Context, viewer domain.Identity, ev domain.BusinessEvent) (bool, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input(viewer, ev)))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// An undefined result means no rule matched.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}

// Accepts implements notify.Scope. Evaluation failures deny.
func (e *Engine) Accepts(viewer domain.Identity, ev domain.BusinessEvent) bool {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	allowed, err := e.Allow(ctx, viewer, ev)
	if err != nil {
		e.logger.Warn("visibility policy failed", zap.String("event", ev.Name), zap.Error(err))
		return false
	}
	return allowed
}

func input(viewer domain.Identity, ev domain.BusinessEvent) map[string]interface{} {
	return map[string]interface{}{
		"viewer": map[string]interface{}{
			"user_id":   viewer.UserID,
			"role":      string(viewer.Role),
			"branch_id": viewer.BranchID,
		},
		"event": map[string]interface{}{
			"name":         ev.Name,
			"kind":         string(ev.Kind),
			"branch_id":    ev.BranchID,
			"recipient_id": ev.RecipientID,
		},
	}
}

// DefaultPolicy mirrors notify.BranchScope.
const DefaultPolicy = `
package notification_visibility

default allow = false

# Addressed events reach their recipient only
allow {
	input.event.recipient_id != ""
	input.event.recipient_id == input.viewer.user_id
}

allow {
	input.event.recipient_id == ""
	input.viewer.role == "owner"
}

allow {
	input.event.recipient_id == ""
	input.viewer.role != "owner"
	input.viewer.branch_id != 0
	input.event.branch_id == input.viewer.branch_id
}
`
