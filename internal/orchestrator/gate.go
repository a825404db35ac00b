package orchestrator

import (
	"context"

	"github.com/shopspring/decimal"

	"rolebot/internal/domain"
)

// UsageReader exposes the per-user usage counter and limit. Writes happen
// at request finalization by the caller, never here.
type UsageReader interface {
	GetUsage(ctx context.Context, userHandle string) (decimal.Decimal, error)
	GetLimit(ctx context.Context, userHandle string) (decimal.Decimal, error)
}

// checkBudget rejects when the prospective cost would reach or exceed the
// user's limit.
func checkBudget(usage, limit, estimate decimal.Decimal) error {
	if usage.Add(estimate).GreaterThanOrEqual(limit) {
		return &domain.BudgetError{Usage: usage, Limit: limit, Estimate: estimate}
	}
	return nil
}

// admit runs the pre-flight budget and moderation gates. Both must pass
// before any generation call is made; the estimate deliberately avoids
// model calls so a rejected request costs nothing.
func (o *Orchestrator) admit(ctx context.Context, req Request) error {
	calc := NewCalculator(req.Caps)
	estimate, err := calc.Estimate(req.Message, o.imageSurcharge)
	if err != nil {
		return err
	}
	usage, err := o.usage.GetUsage(ctx, req.Person.UserHandle)
	if err != nil {
		return err
	}
	limit, err := o.usage.GetLimit(ctx, req.Person.UserHandle)
	if err != nil {
		return err
	}
	if err := checkBudget(usage, limit, estimate); err != nil {
		return err
	}

	text := req.Message.Text
	if req.Message.HasImage() {
		text += "\n" + req.Message.ImageDescription
	}
	if req.Message.HasVoice() {
		text += "\n" + req.Message.VoiceTranscription
	}
	return o.moderator.CheckText(ctx, text)
}
