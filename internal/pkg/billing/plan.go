package billing

import (
	"strings"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/env"
)

func normalizePlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case models.PlanStarter:
		return models.PlanStarter
	case models.PlanPro:
		return models.PlanPro
	case models.PlanTeam:
		return models.PlanTeam
	case models.PlanLifetime:
		return models.PlanLifetime
	case models.PlanCompany:
		return models.PlanCompany
	default:
		return models.PlanFree
	}
}

func planRank(plan string) int {
	switch normalizePlan(plan) {
	case models.PlanLifetime, models.PlanCompany:
		return 4
	case models.PlanTeam:
		return 3
	case models.PlanPro:
		return 2
	case models.PlanStarter:
		return 1
	default:
		return 0
	}
}

// priceEnvKeys maps (plan, interval) to the env var holding the provider
// price id, e.g. STRIPE_PRICE_PRO_MONTHLY=price_123.
func priceEnvKey(plan, interval string) string {
	return "STRIPE_PRICE_" + strings.ToUpper(plan) + "_" + strings.ToUpper(interval)
}

// PriceIDFor resolves the configured provider price id for a plan/interval
// pair, or empty when not configured.
func PriceIDFor(plan, interval string) string {
	p := normalizePlan(plan)
	i := models.NormalizeBillingInterval(interval)
	if p == models.PlanFree || i == models.BillingIntervalUnknown {
		return ""
	}
	return strings.TrimSpace(env.GetEnv(priceEnvKey(p, i), ""))
}

// PlanForPriceID reverse-maps a provider price id to the internal plan by
// scanning the configured price env vars. Unknown prices map to pro so a
// paying customer never resolves to free because of a missing mapping.
func PlanForPriceID(priceID string) string {
	id := strings.TrimSpace(priceID)
	if id == "" {
		return models.PlanFree
	}
	for _, plan := range []string{models.PlanStarter, models.PlanPro, models.PlanTeam} {
		for _, interval := range []string{models.BillingIntervalMonthly, models.BillingIntervalYearly} {
			if env.GetEnv(priceEnvKey(plan, interval), "") == id {
				return plan
			}
		}
	}
	return models.PlanPro
}
