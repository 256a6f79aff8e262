package models

import "sync/atomic"

// CrawlStats holds run-wide counters by outcome category. All counters are
// safe for concurrent update from download workers. Reported at the end of
// a run, never persisted.
type CrawlStats struct {
	PagesProcessed atomic.Int64
	Found          atomic.Int64
	Downloaded     atomic.Int64
	Converted      atomic.Int64
	Detected       atomic.Int64 // stream found but no transcoder available
	Skipped        atomic.Int64
	Failed         atomic.Int64
	RobotsBlocked  atomic.Int64
}

// Record updates the category counter matching a terminal outcome.
func (s *CrawlStats) Record(o Outcome) {
	switch {
	case o == OutcomeSuccess || o == OutcomeDownloaded:
		s.Downloaded.Add(1)
	case o == OutcomeConvertedHLS || o == OutcomeConvertedDASH:
		s.Converted.Add(1)
	case o == OutcomeHLSDetected || o == OutcomeDASHDetected:
		s.Detected.Add(1)
	case o == OutcomeRobotsBlocked:
		s.RobotsBlocked.Add(1)
	case o == OutcomeFailed || o == OutcomeConversionFailed:
		s.Failed.Add(1)
	case o.IsSkip():
		s.Skipped.Add(1)
	}
}
