package draft

import "fmt"

// Provider is the single active broadcaster for a Store. Mounting it moves
// the store from uninitialized to ready; unmounting reverses that.
type Provider struct {
	store *Store
}

// Mount activates a provider, optionally overriding the initial state. At
// most one provider may be active per store at a time. Under
// WithBufferedMutations, recipes accepted before readiness drain here in
// call order.
func (s *Store) Mount(override ...any) (*Provider, error) {
	if s.state == stateReady {
		return nil, ErrProviderMounted
	}
	if len(override) > 1 {
		return nil, fmt.Errorf("draft: Mount takes at most one initial state override, got %d", len(override))
	}
	if len(override) == 1 {
		s.current = override[0]
	}
	s.state = stateReady
	p := &Provider{store: s}
	s.provider = p

	for len(s.pending) > 0 {
		recipe := s.pending[0]
		s.pending = s.pending[1:]
		if err := s.apply(recipe); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Unmount tears the provider down; the store refuses (or buffers) mutations
// again until another Mount. Unmounting twice is a no-op.
func (p *Provider) Unmount() {
	s := p.store
	if s.provider != p {
		return
	}
	s.provider = nil
	s.state = stateUninitialized
}
