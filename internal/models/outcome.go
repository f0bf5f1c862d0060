package models

// Outcome is what the persistence engine did with one record.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"  // candle overwritten
	OutcomeEnriched  Outcome = "enriched" // duplicate article whose unset sentiment got filled
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInvalid   Outcome = "invalid"
)
