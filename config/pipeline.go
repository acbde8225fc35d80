package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DispatchMode string

const (
	DispatchLocal  DispatchMode = "local"
	DispatchPubSub DispatchMode = "pubsub"
)

// Pipeline holds the verification pipeline knobs.
//
// Set via env:
// - ANALYZER_TIMEOUT_SECONDS (default 30)
// - ANALYSIS_WORKERS (default 4)
// - ANALYSIS_QUEUE_SIZE (default 256)
// - ANALYZER_RATE_PER_MIN (default 60, 0 disables limiting)
// - ANALYSIS_STALE_MINUTES (default 15): age after which a pending record is re-enqueued
// - CARBON_METHODOLOGY (default VM0042)
// - CARBON_PRICE_PER_CREDIT (default 15)
// - ANALYSIS_DISPATCH=local|pubsub (default local)
type Pipeline struct {
	AnalyzerTimeout  time.Duration
	Workers          int
	QueueSize        int
	AnalyzerRatePerM int
	StaleAfter       time.Duration
	Methodology      string
	PricePerCredit   decimal.Decimal
	Dispatch         DispatchMode
}

func PipelineSettings() Pipeline {
	p := Pipeline{
		AnalyzerTimeout:  time.Duration(intFromEnv("ANALYZER_TIMEOUT_SECONDS", 30)) * time.Second,
		Workers:          intFromEnv("ANALYSIS_WORKERS", 4),
		QueueSize:        intFromEnv("ANALYSIS_QUEUE_SIZE", 256),
		AnalyzerRatePerM: intFromEnv("ANALYZER_RATE_PER_MIN", 60),
		StaleAfter:       time.Duration(intFromEnv("ANALYSIS_STALE_MINUTES", 15)) * time.Minute,
		Methodology:      "VM0042",
		PricePerCredit:   decimal.NewFromInt(15),
		Dispatch:         DispatchLocal,
	}
	if v := strings.TrimSpace(os.Getenv("CARBON_METHODOLOGY")); v != "" {
		p.Methodology = v
	}
	if v := strings.TrimSpace(os.Getenv("CARBON_PRICE_PER_CREDIT")); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && d.IsPositive() {
			p.PricePerCredit = d
		}
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("ANALYSIS_DISPATCH")), string(DispatchPubSub)) {
		p.Dispatch = DispatchPubSub
	}
	if p.AnalyzerTimeout <= 0 || p.AnalyzerTimeout > 2*time.Minute {
		p.AnalyzerTimeout = 30 * time.Second
	}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.QueueSize <= 0 {
		p.QueueSize = 1
	}
	return p
}

// CarbonStatsCacheEnabled turns the redis carbon stats cache on.
// CARBON_STATS_CACHE=true
func CarbonStatsCacheEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CARBON_STATS_CACHE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
