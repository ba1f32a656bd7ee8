package dispatch

import (
	"context"
	"fmt"

	"github.com/quarrypm/quarry/internal/keys"
	"github.com/quarrypm/quarry/internal/solve"
)

func (p *processor) handleSolve(m *solveMsg) {
	key := keys.SolveKey{Problem: m.problem}.Fingerprint()
	problem := m.problem

	dispatchTask(p, &p.solves, key, m.meta, m.reply,
		func(ctx context.Context, _ *Dispatcher) ([]solve.PackageRecord, error) {
			if p.solver == nil {
				return nil, fmt.Errorf("no solver configured")
			}
			if err := p.limits.Solves.acquire(ctx); err != nil {
				return nil, err
			}
			defer p.limits.Solves.release()

			records, err := p.solver.Solve(ctx, problem)
			if err != nil {
				return nil, fmt.Errorf("solve %q for %s: %w", problem.Name, problem.Platform, err)
			}
			return records, nil
		})
}
