package alerts

import (
	"math"
	"sort"
	"strconv"

	"vitalwatch/internal/models"
)

// Clinical thresholds
const (
	SystolicHigh  = 180.0
	SystolicLow   = 90.0
	DiastolicHigh = 120.0
	DiastolicLow  = 60.0

	// TrendStep is the mmHg change per step for a pressure trend
	TrendStep = 10.0

	SaturationLow = 92.0

	// RapidDrop is in percentage points within RapidDropWindowMs
	RapidDrop = 5.0

	RapidDropWindowMs = 600_000

	// HypoxemiaWindowMs correlates systolic and saturation readings closer than this
	HypoxemiaWindowMs = 300_000

	ECGWindowSize = 10
	ECGPeakFactor = 1.5
)

// Rule names
const (
	RuleCriticalSystolic     = "critical_systolic"
	RuleCriticalDiastolic    = "critical_diastolic"
	RulePressureTrend        = "pressure_trend"
	RuleLowSaturation        = "low_saturation"
	RuleRapidSaturationDrop  = "rapid_saturation_drop"
	RuleHypotensiveHypoxemia = "hypotensive_hypoxemia"
	RuleECGPeak              = "ecg_abnormal_peak"
	RuleManualAlert          = "manual_alert"
)

// Alert conditions with no value component
const (
	ConditionLowSaturation        = "Low Oxygen Saturation"
	ConditionRapidSaturationDrop  = "Rapid O2 Saturation Drop"
	ConditionHypotensiveHypoxemia = "Hypotensive Hypoxemia Alert"
	ConditionECGPeak              = "Abnormal ECG Peak"
	ConditionManualAlert          = "Manual Alert Triggered"
)

// DefaultRules returns the full rule battery in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: RuleCriticalSystolic, Category: models.CategoryBloodPressure, Check: checkCriticalSystolic},
		{Name: RuleCriticalDiastolic, Category: models.CategoryBloodPressure, Check: checkCriticalDiastolic},
		{Name: RulePressureTrend, Category: models.CategoryBloodPressure, Check: checkPressureTrend},
		{Name: RuleLowSaturation, Category: models.CategoryBloodOxygen, Check: checkLowSaturation},
		{Name: RuleRapidSaturationDrop, Category: models.CategoryBloodOxygen, Check: checkRapidSaturationDrop},
		{Name: RuleHypotensiveHypoxemia, Category: models.CategoryHypotensiveHypoxemia, Check: checkHypotensiveHypoxemia},
		{Name: RuleECGPeak, Category: models.CategoryECG, Check: checkECGPeak},
		{Name: RuleManualAlert, Category: models.CategoryManual, Check: checkManualAlert},
	}
}

func checkCriticalSystolic(records []models.Measurement, emit Emit) {
	for _, m := range records {
		if m.Kind.Is(models.KindSystolic) && (m.Value > SystolicHigh || m.Value < SystolicLow) {
			emit("Critical Systolic: "+formatValue(m.Value), m.Timestamp)
		}
	}
}

func checkCriticalDiastolic(records []models.Measurement, emit Emit) {
	for _, m := range records {
		if m.Kind.Is(models.KindDiastolic) && (m.Value > DiastolicHigh || m.Value < DiastolicLow) {
			emit("Critical Diastolic: "+formatValue(m.Value), m.Timestamp)
		}
	}
}

// checkPressureTrend looks at every overlapping triple of same-kind readings;
// both steps must move more than TrendStep in the same direction.
func checkPressureTrend(records []models.Measurement, emit Emit) {
	for _, kind := range []models.Kind{models.KindSystolic, models.KindDiastolic} {
		r := sortedOfKind(records, kind)
		for i := 0; i+2 < len(r); i++ {
			d1 := r[i+1].Value - r[i].Value
			d2 := r[i+2].Value - r[i+1].Value
			switch {
			case d1 > TrendStep && d2 > TrendStep:
				emit(string(kind)+" Increasing Trend", r[i+2].Timestamp)
			case d1 < -TrendStep && d2 < -TrendStep:
				emit(string(kind)+" Decreasing Trend", r[i+2].Timestamp)
			}
		}
	}
}

func checkLowSaturation(records []models.Measurement, emit Emit) {
	for _, m := range records {
		if m.Kind.Is(models.KindBloodSaturation) && m.Value < SaturationLow {
			emit(ConditionLowSaturation, m.Timestamp)
		}
	}
}

// checkRapidSaturationDrop compares each reading only against later readings
// inside the window and stops at the first one that is RapidDrop lower.
func checkRapidSaturationDrop(records []models.Measurement, emit Emit) {
	sat := sortedOfKind(records, models.KindBloodSaturation)
	for i, r := range sat {
		for _, next := range sat[i+1:] {
			if next.Timestamp-r.Timestamp > RapidDropWindowMs {
				break
			}
			if r.Value-next.Value >= RapidDrop {
				emit(ConditionRapidSaturationDrop, next.Timestamp)
				break
			}
		}
	}
}

func checkHypotensiveHypoxemia(records []models.Measurement, emit Emit) {
	systolic := sortedOfKind(records, models.KindSystolic)
	sat := sortedOfKind(records, models.KindBloodSaturation)

	for _, s := range systolic {
		if s.Value >= SystolicLow {
			continue
		}
		for _, o := range sat {
			if absDiff(s.Timestamp, o.Timestamp) < HypoxemiaWindowMs && o.Value < SaturationLow {
				emit(ConditionHypotensiveHypoxemia, s.Timestamp)
				break
			}
		}
	}
}

// checkECGPeak slides a window of ECGWindowSize readings; every reading above
// ECGPeakFactor times the window mean fires, once per window it appears in.
func checkECGPeak(records []models.Measurement, emit Emit) {
	ecg := sortedOfKind(records, models.KindECG)
	for i := 0; i+ECGWindowSize <= len(ecg); i++ {
		window := ecg[i : i+ECGWindowSize]

		sum := 0.0
		for _, r := range window {
			sum += r.Value
		}
		avg := sum / ECGWindowSize

		for _, r := range window {
			if r.Value > avg*ECGPeakFactor {
				emit(ConditionECGPeak, r.Timestamp)
			}
		}
	}
}

func checkManualAlert(records []models.Measurement, emit Emit) {
	for _, m := range records {
		if m.Kind.Is(models.KindManualAlert) {
			emit(ConditionManualAlert, m.Timestamp)
		}
	}
}

// sortedOfKind filters records by kind and sorts them by timestamp.
// Equal timestamps keep insertion order.
func sortedOfKind(records []models.Measurement, kind models.Kind) []models.Measurement {
	out := make([]models.Measurement, 0, len(records))
	for _, m := range records {
		if m.Kind.Is(kind) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// formatValue prints integral values with one decimal (185.0) and others
// with the shortest exact form (85.25).
func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
