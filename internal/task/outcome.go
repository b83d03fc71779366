package task

// Outcome is the closed result of the two-phase task body.
type Outcome int

// Outcomes of one finish call.
const (
	// OutcomeEmpty means crawl returned nothing to process; no bookkeeping follows.
	OutcomeEmpty Outcome = iota
	OutcomeSuccess
	OutcomeCrawlError
	OutcomeProcessError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeSuccess:
		return "success"
	case OutcomeCrawlError:
		return "crawl_error"
	case OutcomeProcessError:
		return "process_error"
	default:
		return "unknown"
	}
}

// Failed reports whether the outcome is one of the routed failures.
func (o Outcome) Failed() bool {
	return o == OutcomeCrawlError || o == OutcomeProcessError
}
