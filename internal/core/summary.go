package core

// RunReport summarizes one pass of the execution engine.
type RunReport struct {
	AsOf      Date               `json:"asOf"`
	Attempts  []ExecutionAttempt `json:"attempts"`
	ManualDue []string           `json:"manualDue"`
}

// Count returns the number of attempts with the given outcome.
func (r RunReport) Count(o Outcome) int {
	n := 0
	for _, a := range r.Attempts {
		if a.Outcome == o {
			n++
		}
	}
	return n
}

// UpcomingView holds two disjoint read-only projections of active schedules.
type UpcomingView struct {
	UpcomingTransactions          []ScheduledTransaction `json:"upcomingTransactions"`
	InsufficientFundsTransactions []ScheduledTransaction `json:"insufficientFundsTransactions"`
}
