// Package risk scores extraction records by which key fields are missing.
package risk

import "github.com/mfenderov/doclens/pkg/models"

// Penalties added for each missing field.
const (
	PenaltyDueDate      = 20
	PenaltyAmount       = 20
	PenaltyDueAndAmount = 15
	PenaltyStartDate    = 10
	PenaltyParties      = 15
	PenaltyAccountType  = 5
	MaxScore            = 100
)

// Score computes the completeness risk of a field set. It is pure: the same
// fields always give the same score and factors.
func Score(fields models.Fields) models.Risk {
	var r models.Risk
	add := func(factor string, impact int) {
		r.Score += impact
		r.Factors = append(r.Factors, models.RiskFactor{Factor: factor, Impact: impact})
	}

	if !fields.Has(models.FieldParty1) && !fields.Has(models.FieldParty2) {
		add("Missing party information", PenaltyParties)
	}
	if !fields.Has(models.FieldStartDate) {
		add("Missing start date", PenaltyStartDate)
	}
	dueMissing := !fields.Has(models.FieldDueDate)
	if dueMissing {
		add("Missing due date", PenaltyDueDate)
	}
	amountMissing := !fields.Has(models.FieldAmount)
	if amountMissing {
		add("Missing payment amount", PenaltyAmount)
	}
	if dueMissing && amountMissing {
		add("Missing both payment amount and due date", PenaltyDueAndAmount)
	}
	if !fields.Has(models.FieldAccountType) {
		add("Missing account type", PenaltyAccountType)
	}

	r.Score = min(max(r.Score, 0), MaxScore)
	return r
}

// LevelOf bands a score. It is the same banding models.Risk.Level uses.
func LevelOf(score int) models.RiskLevel {
	return models.RiskLevelOf(score)
}
