package spine

import (
	"context"

	"github.com/google/uuid"

	"github.com/overcast-ai/backplane/internal/model"
)

// Typed emitters: fixed-shape convenience wrappers over the same
// validate-then-append path. None bypass validation or the routing gate.

// EmitAudit appends an audit event recording action against resource.
func (s *Spine) EmitAudit(ctx context.Context, runID, action, resource string, detail map[string]any) (uuid.UUID, error) {
	payload := map[string]any{"action": action, "resource": resource}
	if detail != nil {
		payload["detail"] = detail
	}
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventAudit,
		Source:    model.SourceAgent,
		RunID:     runID,
		Payload:   payload,
	})
}

// EmitSafety appends a safety event with a rule id and verdict.
func (s *Spine) EmitSafety(ctx context.Context, runID, ruleID, verdict string, detail map[string]any) (uuid.UUID, error) {
	payload := map[string]any{"rule_id": ruleID, "verdict": verdict}
	if detail != nil {
		payload["detail"] = detail
	}
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventSafety,
		Source:    model.SourceAgent,
		RunID:     runID,
		Payload:   payload,
	})
}

// EmitRL appends a reinforcement-learning reward observation.
func (s *Spine) EmitRL(ctx context.Context, runID, stepID string, reward float64, detail map[string]any) (uuid.UUID, error) {
	payload := map[string]any{"reward": reward}
	if detail != nil {
		payload["detail"] = detail
	}
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventRL,
		Source:    model.SourceAgent,
		RunID:     runID,
		StepID:    stepID,
		Payload:   payload,
	})
}

// EmitRLHA appends a human-alignment feedback event.
func (s *Spine) EmitRLHA(ctx context.Context, runID, userID, rating string, detail map[string]any) (uuid.UUID, error) {
	payload := map[string]any{"rating": rating}
	if detail != nil {
		payload["detail"] = detail
	}
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventRLHA,
		Source:    model.SourceUI,
		RunID:     runID,
		UserID:    userID,
		Payload:   payload,
	})
}

// EmitTuning appends a tuning event for parameter adjustments.
func (s *Spine) EmitTuning(ctx context.Context, runID, parameter string, detail map[string]any) (uuid.UUID, error) {
	payload := map[string]any{"parameter": parameter}
	if detail != nil {
		payload["detail"] = detail
	}
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventTuning,
		Source:    model.SourceAgent,
		RunID:     runID,
		Payload:   payload,
	})
}

// EmitBudget appends a budget consumption event.
func (s *Spine) EmitBudget(ctx context.Context, runID, budgetID string, consumed, remaining float64) (uuid.UUID, error) {
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventBudget,
		Source:    model.SourceAgent,
		RunID:     runID,
		Payload: map[string]any{
			"budget_id": budgetID,
			"consumed":  consumed,
			"remaining": remaining,
		},
	})
}

// EmitStrategyLock appends a strategy-lock acquisition/release event.
func (s *Spine) EmitStrategyLock(ctx context.Context, runID, strategy, state string) (uuid.UUID, error) {
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventStrategyLock,
		Source:    model.SourceAgent,
		RunID:     runID,
		Payload:   map[string]any{"strategy": strategy, "state": state},
	})
}

// EmitAnalytics appends an analytics event.
func (s *Spine) EmitAnalytics(ctx context.Context, runID, metric string, value float64, detail map[string]any) (uuid.UUID, error) {
	payload := map[string]any{"metric": metric, "value": value}
	if detail != nil {
		payload["detail"] = detail
	}
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventAnalytics,
		Source:    model.SourceConnector,
		RunID:     runID,
		Payload:   payload,
	})
}

// EmitGateChainError appends a gate-chain failure event.
func (s *Spine) EmitGateChainError(ctx context.Context, runID, gate, message string) (uuid.UUID, error) {
	return s.Append(ctx, AppendInput{
		EventType: model.SpineEventGateChainError,
		Source:    model.SourceTool,
		RunID:     runID,
		Payload:   map[string]any{"gate": gate, "message": message},
	})
}
