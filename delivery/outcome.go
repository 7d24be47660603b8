package delivery

// Outcome classifies one delivery attempt. The split matters: Expired is
// relay-confirmed permanent death and deletes the row immediately, while
// Transient only counts toward the soft-disable threshold.
type Outcome int

const (
	// Delivered means the relay accepted the message (200/201).
	Delivered Outcome = iota
	// Expired means the relay reported the endpoint gone (404/410).
	Expired
	// Transient covers every other failure: non-success statuses, network
	// errors, and local precondition failures that never reached the relay.
	Transient
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Expired:
		return "expired"
	case Transient:
		return "transient-failure"
	default:
		return "unknown"
	}
}

// Result is the outcome of one subscription's attempt.
type Result struct {
	SubscriptionID string
	Endpoint       string
	Outcome        Outcome
	StatusCode     int // zero when the attempt never reached the relay
	Err            error
}

// Report aggregates a batch. Every eligible subscription appears in Results
// exactly once; a failing subscription never aborts the others.
type Report struct {
	Delivered int
	Expired   int
	Failed    int
	Results   []Result
}

func (r *Report) tally() {
	for _, res := range r.Results {
		switch res.Outcome {
		case Delivered:
			r.Delivered++
		case Expired:
			r.Expired++
		case Transient:
			r.Failed++
		}
	}
}
