package middleware

import (
	"github.com/xraph/mediaflow/executor"
)

// OutcomeCompleted labels an execution that returned no error.
const OutcomeCompleted = "completed"

// Outcome labels one execution for logs, spans and metrics: "completed",
// or the error class the runner will record ("transient" or "permanent").
func Outcome(err error) string {
	if err == nil {
		return OutcomeCompleted
	}
	return string(executor.Classify(err))
}
