package agent

import (
	"time"

	"github.com/hearthlabs/agentloop/pkg/middleware"
)

// Options controls runtime behavior of the Agent.
type Options struct {
	// MaxIterations limits how many cycles Run may execute.
	// Zero means no limit.
	MaxIterations int
	// MaxBudgetUSD terminates the run once CostFn reports cumulative
	// spend at or above this amount. Zero disables the check.
	MaxBudgetUSD float64
	// CostFn reports the run's cumulative model spend in USD. Consulted
	// before each cycle when MaxBudgetUSD is set.
	CostFn func() float64
	// Timeout bounds the entire Run invocation. Zero disables it.
	Timeout time.Duration
	// Middleware chain. Defaults to an empty chain when nil.
	Middleware *middleware.Chain
}

func (o Options) withDefaults() Options {
	if o.Middleware == nil {
		o.Middleware = middleware.NewChain(nil)
	}
	return o
}
