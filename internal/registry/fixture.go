package registry

import "github.com/sells-group/reconcile-cli/internal/model"

// Fixture returns a registry with a representative set of providers, used by
// tests and the dev CLI when no registry file is configured.
func Fixture() *Registry {
	return New([]model.Source{
		{SourceID: "sec_edgar", Category: model.CategoryRegulatory, BaseWeight: 1.0, HistoricalAccuracy: 1.0},
		{SourceID: "market_aggregator", Category: model.CategoryAggregate, BaseWeight: 0.8, HistoricalAccuracy: 1.0},
		{SourceID: "vendor_feed", Category: model.CategorySingleReliable, BaseWeight: 0.7, HistoricalAccuracy: 1.0},
		{SourceID: "analyst_consensus", Category: model.CategoryPredictive, BaseWeight: 0.5, HistoricalAccuracy: 1.0},
	}, nil)
}
