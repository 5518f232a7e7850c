package models

// Category groups alerts by the clinical signal family that produced them
type Category string

const (
	CategoryBloodPressure        Category = "BloodPressure"
	CategoryBloodOxygen          Category = "BloodOxygen"
	CategoryHypotensiveHypoxemia Category = "HypotensiveHypoxemia"
	CategoryECG                  Category = "ECG"
	CategoryManual               Category = "Manual"
)

// Alert is produced by the rule engine and handed to a sink. The core
// never retains it.
type Alert struct {
	PatientID int      `json:"patient_id"`
	Condition string   `json:"condition"`
	Timestamp int64    `json:"timestamp"`
	Rule      string   `json:"rule"`
	Category  Category `json:"category"`
}
