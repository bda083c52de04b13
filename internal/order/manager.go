package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/ligustah/sceneslurp/internal/catalog"
	acqhttp "github.com/ligustah/sceneslurp/internal/http"
	"github.com/ligustah/sceneslurp/internal/retry"
)

// ESPABaseURL is the root of the ESPA REST API.
const ESPABaseURL = "https://espa.cr.usgs.gov/api/v1/"

var (
	// ErrEmptyOrder is returned when submitting no inputs.
	ErrEmptyOrder = errors.New("order: no inputs")

	// ErrUnknownStatus is returned when the service reports a status
	// outside the state machine.
	ErrUnknownStatus = errors.New("order: unknown status")
)

// Options configures a Manager.
type Options struct {
	// BaseURL overrides the ESPA root. It must end in "/".
	BaseURL string

	Username string
	Password string

	HTTP *acqhttp.Client

	// BatchSize is the number of inputs per order in SubmitBatches.
	// Default: 10
	BatchSize int

	// BatchPause separates consecutive batch submissions.
	// Default: 30s
	BatchPause time.Duration

	// Format is the output format requested.
	// Default: GTIFF
	Format string

	// Collection names the product_opts key the inputs go under.
	// Default: olitirs8_collection
	Collection string

	// Products lists the processing products requested.
	// Default: ["sr"]
	Products []string

	Sleep retry.Sleeper
	Now   func() time.Time

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = ESPABaseURL
	}
	if o.HTTP == nil {
		o.HTTP = acqhttp.NewClient(acqhttp.DefaultOptions())
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.BatchPause <= 0 {
		o.BatchPause = 30 * time.Second
	}
	if o.Format == "" {
		o.Format = "GTIFF"
	}
	if o.Collection == "" {
		o.Collection = "olitirs8_collection"
	}
	if len(o.Products) == 0 {
		o.Products = []string{"sr"}
	}
	if o.Sleep == nil {
		o.Sleep = retry.Sleep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// BatchResult is the outcome of one batch of SubmitBatches.
type BatchResult struct {
	Inputs  []string
	OrderID string
	Err     error
}

// Manager submits, tracks and cancels orders.
type Manager struct {
	tokens catalog.TokenSource
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	tracked map[string]*Order
}

// NewManager creates a Manager. tokens gates every call on a valid
// catalog session.
func NewManager(tokens catalog.TokenSource, opts Options) *Manager {
	opts = opts.withDefaults()
	log := opts.Logger
	if log == nil {
		log = slog.Default().With("component", "order")
	}
	return &Manager{tokens: tokens, opts: opts, log: log, tracked: make(map[string]*Order)}
}

// Submit places one order for names and returns its id.
func (m *Manager) Submit(ctx context.Context, names []string, note string) (string, error) {
	if len(names) == 0 {
		return "", ErrEmptyOrder
	}
	if note == "" {
		note = fmt.Sprintf("%s-SCENESLURP-%d", m.opts.Now().Format("20060102-15:04"), len(names))
	}

	body := map[string]any{
		"format": m.opts.Format,
		"note":   note,
		m.opts.Collection: map[string]any{
			"inputs":   names,
			"products": m.opts.Products,
		},
	}
	var resp struct {
		OrderID string `json:"orderid"`
	}
	if err := m.call(ctx, http.MethodPost, "order", body, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("order: submit returned no order id")
	}

	m.track(&Order{
		ID:        resp.OrderID,
		Status:    StatusSubmitted,
		Inputs:    append([]string(nil), names...),
		Note:      note,
		CreatedAt: m.opts.Now(),
	})
	m.log.Info("order submitted", "order_id", resp.OrderID, "inputs", len(names))
	return resp.OrderID, nil
}

// SubmitBatches splits names into BatchSize chunks and submits each as its
// own order, pausing BatchPause between submissions. It returns exactly
// one result per batch; a failed batch does not stop the rest.
func (m *Manager) SubmitBatches(ctx context.Context, names []string, note string) []BatchResult {
	batches := Partition(names, m.opts.BatchSize)
	results := make([]BatchResult, len(batches))

	for i, batch := range batches {
		results[i].Inputs = batch

		if i > 0 {
			if err := m.opts.Sleep(ctx, m.opts.BatchPause); err != nil {
				for j := i; j < len(batches); j++ {
					results[j] = BatchResult{Inputs: batches[j], Err: err}
				}
				return results
			}
		}

		id, err := m.Submit(ctx, batch, note)
		results[i].OrderID = id
		results[i].Err = err
		if err != nil {
			m.log.Warn("batch submit failed", "batch", i, "inputs", len(batch), "error", err)
		}
	}
	return results
}

// ListOutstanding returns every order on the account whose status is
// known and not cancelled. Orders whose details cannot be fetched are
// logged and skipped.
func (m *Manager) ListOutstanding(ctx context.Context) ([]Order, error) {
	var ids []string
	if err := m.call(ctx, http.MethodGet, "list-orders", nil, &ids); err != nil {
		return nil, err
	}

	var out []Order
	for _, id := range ids {
		o, err := m.Order(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.log.Warn("skipping order", "order_id", id, "error", err)
			continue
		}
		if o.Status == StatusCancelled {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// Order fetches the details of one order.
func (m *Manager) Order(ctx context.Context, id string) (Order, error) {
	var resp struct {
		Status      string                     `json:"status"`
		ProductOpts map[string]json.RawMessage `json:"product_opts"`
		OrderDate   string                     `json:"order_date"`
		Note        string                     `json:"note"`
	}
	if err := m.call(ctx, http.MethodGet, "order/"+url.PathEscape(id), nil, &resp); err != nil {
		return Order{}, err
	}

	status, ok := ParseStatus(resp.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: %q for order %s", ErrUnknownStatus, resp.Status, id)
	}

	o := Order{ID: id, Status: status, Note: resp.Note, CreatedAt: parseOrderDate(resp.OrderDate)}

	keys := make([]string, 0, len(resp.ProductOpts))
	for k := range resp.ProductOpts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var opts struct {
			Inputs []string `json:"inputs"`
		}
		if json.Unmarshal(resp.ProductOpts[k], &opts) == nil {
			o.Inputs = append(o.Inputs, opts.Inputs...)
		}
	}
	return o, nil
}

// PollStatus fetches the order's status and applies it to the tracked
// order. A status the state machine forbids is returned together with a
// *TransitionError; the tracked order keeps its previous status.
func (m *Manager) PollStatus(ctx context.Context, id string) (Status, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := m.call(ctx, http.MethodGet, "order-status/"+url.PathEscape(id), nil, &resp); err != nil {
		return "", err
	}

	status, ok := ParseStatus(resp.Status)
	if !ok {
		return "", fmt.Errorf("%w: %q for order %s", ErrUnknownStatus, resp.Status, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.tracked[id]
	if !ok {
		m.tracked[id] = &Order{ID: id, Status: status}
		return status, nil
	}
	if err := o.Transition(status); err != nil {
		m.log.Warn("ignoring status change", "order_id", id, "error", err)
		return status, err
	}
	return status, nil
}

// Cancel cancels an order that is still submitted or ordered. It reports
// whether the service accepted the cancellation.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	current, err := m.PollStatus(ctx, id)
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return false, err
	}
	if !current.Cancellable() {
		return false, &TransitionError{ID: id, From: current, To: StatusCancelled}
	}

	body := map[string]string{"orderid": id, "status": string(StatusCancelled)}
	if err := m.call(ctx, http.MethodPut, "order", body, nil); err != nil {
		return false, err
	}

	m.mu.Lock()
	if o, ok := m.tracked[id]; ok {
		if err := o.Transition(StatusCancelled); err != nil {
			m.log.Warn("tracked order out of sync", "order_id", id, "error", err)
			o.Status = StatusCancelled
		}
	}
	m.mu.Unlock()

	m.log.Info("order cancelled", "order_id", id)
	return true, nil
}

// Items lists the order's items with their download URLs.
func (m *Manager) Items(ctx context.Context, id string) ([]Item, error) {
	var resp map[string][]struct {
		Name   string `json:"name"`
		Status string `json:"status"`
		URL    string `json:"product_dload_url"`
	}
	if err := m.call(ctx, http.MethodGet, "item-status/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}

	raw := resp[id]
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		items = append(items, Item{Name: r.Name, Status: r.Status, URL: r.URL})
	}
	return items, nil
}

// Tracked returns a copy of a tracked order.
func (m *Manager) Tracked(id string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.tracked[id]
	if !ok {
		return Order{}, false
	}
	c := *o
	c.Inputs = append([]string(nil), o.Inputs...)
	return c, true
}

func (m *Manager) track(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[o.ID] = o
}

// call confirms the session, then performs an ESPA request.
func (m *Manager) call(ctx context.Context, method, endpoint string, body, out any) error {
	if _, err := m.tokens.Token(ctx); err != nil {
		return fmt.Errorf("order: %s: %w", endpoint, err)
	}
	err := m.opts.HTTP.JSON(ctx, method, m.opts.BaseURL+endpoint, body, out,
		acqhttp.WithBasicAuth(m.opts.Username, m.opts.Password))
	if err != nil {
		return fmt.Errorf("order: %s: %w", endpoint, err)
	}
	return nil
}

var orderDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

func parseOrderDate(s string) time.Time {
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
