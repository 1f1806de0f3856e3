package extractor

import (
	"strconv"

	"github.com/mfenderov/doclens/pkg/models"
)

type period struct {
	name    string
	perYear float64
}

var periods = map[string]period{
	FrequencyMonthly:    {"month", 12},
	FrequencyQuarterly:  {"quarter", 4},
	FrequencySemiAnnual: {"half-year", 2},
	FrequencyAnnual:     {"year", 1},
	FrequencyWeekly:     {"week", 52},
	FrequencyDaily:      {"day", 365},
}

// AssignPeriodAmounts derives per_period_amount, per_month_amount and
// period_name from amount and frequency. The amount is read as the payment
// due each period. One-time payments get a per-period amount only.
func AssignPeriodAmounts(fields models.Fields) {
	amount, err := strconv.ParseFloat(fields.Get(models.FieldAmount), 64)
	if err != nil {
		return
	}
	freq, ok := NormalizeFrequency(fields.Get(models.FieldFrequency))
	if !ok {
		return
	}

	fields.Set(models.FieldPerPeriodAmount, FormatAmount(amount), nil)
	if freq == FrequencyOneTime {
		fields.Set(models.FieldPeriodName, FrequencyOneTime, nil)
		return
	}
	p := periods[freq]
	fields.Set(models.FieldPeriodName, p.name, nil)
	fields.Set(models.FieldPerMonthAmount, FormatAmount(roundCents(amount*p.perYear/12)), nil)
}

func roundCents(v float64) float64 {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	r, _ := strconv.ParseFloat(s, 64)
	return r
}
