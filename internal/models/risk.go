// internal/models/risk.go
package models

import "time"

type Recommendation string

const (
	RecommendAdditionalVerification Recommendation = "ADDITIONAL_VERIFICATION"
	RecommendStandardVerification   Recommendation = "STANDARD_VERIFICATION"
	RecommendProceed                Recommendation = "PROCEED"
)

type RiskFactors struct {
	Amount    float64 `json:"amount"`
	Frequency float64 `json:"frequency"`
	Pattern   float64 `json:"pattern"`
}

// RiskAssessment is advisory and never persisted on its own.
type RiskAssessment struct {
	Score          float64        `json:"score"`
	Factors        RiskFactors    `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
	AssessedAt     time.Time      `json:"assessedAt"`
}
