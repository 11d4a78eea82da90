package usecase

import "context"

// MetricsSummary represents aggregated login insights.
type MetricsSummary struct {
	TotalAttempts      int64   `json:"total_attempts"`
	SuccessfulAttempts int64   `json:"successful_attempts"`
	SuccessRate        float64 `json:"success_rate"`
	AverageMatches     float64 `json:"average_matches"`
}

// GetMetricsSummary aggregates login metrics from persisted attempt logs.
func (uc *LoginUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.logs.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAttempts:      aggregation.TotalCount,
		SuccessfulAttempts: aggregation.SuccessCount,
		AverageMatches:     aggregation.AverageMatches,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
