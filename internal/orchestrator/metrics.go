package orchestrator

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/orchestrator"

var (
	runsCounter        metric.Int64Counter
	iterationHistogram metric.Int64Histogram
	delegationDuration metric.Float64Histogram
	delegationErrors   metric.Int64Counter
	budgetTrips        metric.Int64Counter
)

// initMetrics initializes OpenTelemetry metrics for the engine.
// Called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	runsCounter, err = meter.Int64Counter(
		"remedyd.runs",
		metric.WithDescription("Total workflow runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create runs counter: %v", err))
	}

	iterationHistogram, err = meter.Int64Histogram(
		"remedyd.run.iterations",
		metric.WithDescription("Review iterations consumed per run"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create iteration histogram: %v", err))
	}

	delegationDuration, err = meter.Float64Histogram(
		"remedyd.delegation.duration",
		metric.WithDescription("Duration of agent delegations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create delegation duration: %v", err))
	}

	delegationErrors, err = meter.Int64Counter(
		"remedyd.delegation.errors",
		metric.WithDescription("Agent delegations that raised"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create delegation error counter: %v", err))
	}

	budgetTrips, err = meter.Int64Counter(
		"remedyd.budget.trips",
		metric.WithDescription("Runs halted by the call budget breaker"),
		metric.WithUnit("{trip}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create budget trip counter: %v", err))
	}
}

func init() {
	initMetrics()
}
