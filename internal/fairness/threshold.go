package fairness

import (
	"github.com/shopspring/decimal"

	"fairroll-backend/internal/apperr"
	"fairroll-backend/internal/models"
)

// ResolveThreshold decides an upgrade. Up wins when r >= 100 - winChance,
// Down wins when r <= winChance, so winChance is the win probability in
// either direction.
func ResolveThreshold(r, winChance models.Roll, dir models.Direction) bool {
	switch dir {
	case models.DirectionUp:
		return r >= models.RollMax-winChance
	case models.DirectionDown:
		return r <= winChance
	default:
		return false
	}
}

// UpgradeWinChance computes multiplier = target/source and
// winChance = (100 / multiplier) * (1 - houseEdge/100), truncated to five
// decimal places.
func UpgradeWinChance(sourceValue, targetValue, houseEdge decimal.Decimal) (decimal.Decimal, models.Roll, error) {
	const op = "fairness.UpgradeWinChance"

	if !sourceValue.IsPositive() || !targetValue.IsPositive() {
		return decimal.Zero, 0, apperr.E(apperr.CodeInvalidUpgrade, op, "item values must be positive")
	}
	if houseEdge.IsNegative() || houseEdge.GreaterThanOrEqual(hundred) {
		return decimal.Zero, 0, apperr.E(apperr.CodeInvalidUpgrade, op, "house edge must be in [0, 100)")
	}

	multiplier := targetValue.DivRound(sourceValue, 16)
	if multiplier.LessThan(decimal.NewFromInt(1)) {
		return decimal.Zero, 0, apperr.E(apperr.CodeInvalidUpgrade, op,
			"target value "+targetValue.String()+" is below source value "+sourceValue.String())
	}

	keep := decimal.NewFromInt(1).Sub(houseEdge.Div(hundred))
	// (100 * source / target) keeps the exact ratio instead of dividing by a
	// rounded multiplier.
	chance := hundred.Mul(sourceValue).Mul(keep).DivRound(targetValue, 16).Truncate(5)

	return multiplier, models.RollFromDecimal(chance), nil
}
