package model

// CheckStatus is the outcome of a preflight check.
type CheckStatus string

const (
	CheckStatusOK      CheckStatus = "ok"
	CheckStatusWarning CheckStatus = "warning"
	CheckStatusError   CheckStatus = "error"
)

// CheckResult is the result of a single doctor preflight check, like the sandbox engine
// being reachable or an agent having its credentials.
type CheckResult struct {
	// ID identifies the checked component (e.g. "docker_daemon", "agent_claude").
	ID      string
	Message string
	Status  CheckStatus
}

// HasErrors returns true if any check failed.
func HasErrors(results []CheckResult) bool {
	_, _, errs := CountByStatus(results)
	return errs > 0
}

// CountByStatus counts the check results of each status.
func CountByStatus(results []CheckResult) (ok, warnings, errors int) {
	for _, r := range results {
		switch r.Status {
		case CheckStatusOK:
			ok++
		case CheckStatusWarning:
			warnings++
		case CheckStatusError:
			errors++
		}
	}
	return ok, warnings, errors
}
