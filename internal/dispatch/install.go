package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quarrypm/quarry/internal/solve"
)

func (p *processor) handleInstall(m *installMsg) {
	// A forced install gets a nonce key: it never joins an existing group
	// and never answers future requests, while the regular cached entry for
	// the prefix stays valid.
	key := "install\n" + m.req.Prefix
	if m.req.Force {
		key = "install-force\n" + uuid.NewString()
	}
	req := m.req

	dispatchTask(p, &p.installs, key, m.meta, m.reply,
		func(ctx context.Context, _ *Dispatcher) (solve.InstallResult, error) {
			if p.installer == nil {
				return solve.InstallResult{}, fmt.Errorf("no installer configured")
			}
			result, err := p.installer.Install(ctx, req)
			if err != nil {
				return solve.InstallResult{}, fmt.Errorf("install into %s: %w", req.Prefix, err)
			}
			return result, nil
		})
}
