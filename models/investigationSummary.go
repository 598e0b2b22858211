package models

type InvestigationSummary struct {
	TotalFields       int               `json:"total_fields"`
	CompletedFields   int               `json:"completed_fields"`
	ConfirmedFields   int               `json:"confirmed_fields"`
	AdjustedFields    int               `json:"adjusted_fields"`
	BlockedFields     int               `json:"blocked_fields"`
	PendingFields     int               `json:"pending_fields"`
	Progress          int               `json:"progress"`
	OverallStatus     ProgressStatus    `json:"overall_status"`
	OverallRisk       RiskLevel         `json:"overall_risk"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
}

// adjusted share above which risk is at least medium, in percent
const mediumRiskAdjustedShare = 30

// BuildSummary aggregates every field of every section. It reads only.
func BuildSummary(sections []*InvcSection) InvestigationSummary {
	var sum InvestigationSummary
	var anyCritical, anyHigh, criticalBlock bool
	for _, s := range sections {
		for _, f := range s.Fields {
			sum.TotalFields++
			switch f.Status {
			case FieldStatusConfirmed:
				sum.ConfirmedFields++
			case FieldStatusAdjusted:
				sum.AdjustedFields++
			case FieldStatusBlocked:
				sum.BlockedFields++
			default:
				sum.PendingFields++
			}
			switch f.Severity {
			case SeverityCritical:
				anyCritical = true
			case SeverityHigh:
				anyHigh = true
			}
			if f.IsCriticalBlock() {
				criticalBlock = true
			}
		}
	}
	sum.CompletedFields = sum.ConfirmedFields + sum.AdjustedFields
	sum.Progress = percentage(sum.CompletedFields, sum.TotalFields)
	sum.OverallStatus = statusFromCounts(sum.TotalFields, sum.CompletedFields, sum.BlockedFields)

	switch {
	case anyCritical:
		sum.OverallRisk = RiskLevelCritical
	case anyHigh:
		sum.OverallRisk = RiskLevelHigh
	case sum.AdjustedFields*100 > mediumRiskAdjustedShare*sum.TotalFields:
		sum.OverallRisk = RiskLevelMedium
	default:
		sum.OverallRisk = RiskLevelLow
	}

	switch {
	case sum.OverallRisk == RiskLevelCritical || criticalBlock:
		sum.RecommendedAction = RecommendedActionReject
	case sum.OverallRisk == RiskLevelHigh || sum.BlockedFields > 0:
		sum.RecommendedAction = RecommendedActionAdditionalVerification
	case sum.AdjustedFields > 0:
		sum.RecommendedAction = RecommendedActionApproveWithConditions
	default:
		sum.RecommendedAction = RecommendedActionApprove
	}
	return sum
}
