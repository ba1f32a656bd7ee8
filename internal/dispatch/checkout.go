package dispatch

import (
	"context"

	"github.com/quarrypm/quarry/internal/source"
)

func (p *processor) handlePinCheckout(m *pinCheckoutMsg) {
	key := "pin\n" + m.spec.String()
	spec := m.spec

	dispatchTask(p, &p.pins, key, m.meta, m.reply,
		func(ctx context.Context, _ *Dispatcher) (source.Checkout, error) {
			return p.sources.PinAndCheckout(ctx, spec)
		})
}

func (p *processor) handleCheckoutPinned(m *checkoutPinnedMsg) {
	// Keyed by pin identity: content-addressed for immutable sources,
	// path-addressed for mutable ones.
	key := "checkout\n" + m.pin.Identity()
	pin := m.pin

	dispatchTask(p, &p.checkouts, key, m.meta, m.reply,
		func(ctx context.Context, _ *Dispatcher) (source.Checkout, error) {
			return p.sources.CheckoutPinned(ctx, pin)
		})
}
