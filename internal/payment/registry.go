package payment

import (
	"fmt"
	"sort"
)

// Registry holds every configured gateway. Checkout always uses the active
// one; webhooks and status checks resolve the provider recorded on the order.
type Registry struct {
	gateways map[string]Gateway
	active   string
}

func NewRegistry(active string, gateways ...Gateway) (*Registry, error) {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways)), active: active}
	for _, gw := range gateways {
		r.gateways[gw.Name()] = gw
	}
	if _, ok := r.gateways[active]; !ok {
		return nil, fmt.Errorf("active payment provider %q is not configured", active)
	}
	return r, nil
}

func (r *Registry) Active() Gateway {
	return r.gateways[r.active]
}

func (r *Registry) Get(name string) (Gateway, bool) {
	gw, ok := r.gateways[name]
	return gw, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
