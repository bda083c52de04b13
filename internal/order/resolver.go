package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/ligustah/sceneslurp/internal/catalog"
)

// ErrItemNotReady is returned for items that have no download URL yet.
var ErrItemNotReady = errors.New("order: item not ready")

// Resolver serves download URLs for the items of one order. It satisfies
// the downloader's URL resolver so completed orders can be fed through
// the same worker pool as catalog downloads.
type Resolver struct {
	orderID string
	items   map[string]Item
	order   []string
}

// Resolver fetches the order's items and returns a resolver over them.
func (m *Manager) Resolver(ctx context.Context, id string) (*Resolver, error) {
	items, err := m.Items(ctx, id)
	if err != nil {
		return nil, err
	}
	return NewResolver(id, items), nil
}

// NewResolver builds a resolver from already fetched items.
func NewResolver(orderID string, items []Item) *Resolver {
	r := &Resolver{orderID: orderID, items: make(map[string]Item, len(items))}
	for _, it := range items {
		if _, dup := r.items[it.Name]; !dup {
			r.order = append(r.order, it.Name)
		}
		r.items[it.Name] = it
	}
	return r
}

// ResolveURL looks the product up by display name, then entity id. The
// format is ignored: an order item has exactly one output.
func (r *Resolver) ResolveURL(_ context.Context, p catalog.Product, _ string) (string, error) {
	it, ok := r.items[p.DisplayName]
	if !ok {
		it, ok = r.items[p.EntityID]
	}
	if !ok {
		return "", fmt.Errorf("order %s: no item %q", r.orderID, p.DisplayName)
	}
	if !it.Ready() {
		return "", fmt.Errorf("%w: %s is %s", ErrItemNotReady, it.Name, it.Status)
	}
	return it.URL, nil
}

// Products returns one product per ready item, in service order.
func (r *Resolver) Products() []catalog.Product {
	var out []catalog.Product
	for _, name := range r.order {
		if r.items[name].Ready() {
			out = append(out, catalog.Product{EntityID: name, DisplayName: name})
		}
	}
	return out
}

// Pending returns the names of items not yet ready.
func (r *Resolver) Pending() []string {
	var out []string
	for _, name := range r.order {
		if !r.items[name].Ready() {
			out = append(out, name)
		}
	}
	return out
}
