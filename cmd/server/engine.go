package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/config"
)

// buildEngine turns the approval section of the configuration into an Engine.
func buildEngine(cfg config.ApprovalConfig) (*approval.Engine, error) {
	bands := make([]approval.Band, 0, len(cfg.Ladder))
	for i, b := range cfg.Ladder {
		band := approval.Band{Roles: b.Roles}
		if upper := strings.TrimSpace(b.Max); upper != "" {
			d, err := decimal.NewFromString(upper)
			if err != nil {
				return nil, fmt.Errorf("ladder band %d: invalid max %q: %w", i, b.Max, err)
			}
			band.Max = &d
		}
		bands = append(bands, band)
	}
	ladder, err := approval.NewLadder(bands)
	if err != nil {
		return nil, err
	}

	reps := make(map[string]approval.Representative, len(cfg.Representatives))
	for role, r := range cfg.Representatives {
		reps[role] = approval.Representative{UserID: r.UserID, Name: r.Name}
	}

	return approval.NewEngine(
		approval.WithLadder(ladder),
		approval.WithRepresentatives(reps),
		approval.WithRoleHours(cfg.RoleHours, cfg.DefaultRoleHours),
		approval.WithDelegatesMayAct(cfg.DelegatesMayAct),
	), nil
}
