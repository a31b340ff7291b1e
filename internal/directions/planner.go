package directions

import (
	"context"
	"sync"

	"github.com/danghamo/haulnav/internal/domain/shared"
	"github.com/danghamo/haulnav/internal/navigation"
)

// State is where the Planner is in acquiring a route
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
)

// Fetcher is satisfied by *Client
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]navigation.Route, error)
}

// Planner keeps the last request and its outcome so a failed fetch can be
// retried without re-entering addresses
type Planner struct {
	fetcher Fetcher

	mu       sync.Mutex
	state    State
	request  *Request
	routes   []navigation.Route
	selected int
	lastErr  error
}

// NewPlanner creates an idle planner
func NewPlanner(fetcher Fetcher) *Planner {
	return &Planner{fetcher: fetcher, state: StateIdle}
}

// PlanResult is a snapshot of the planner
type PlanResult struct {
	State    State              `json:"state"`
	Request  *Request           `json:"request,omitempty"`
	Routes   []navigation.Route `json:"routes,omitempty"`
	Selected int                `json:"selected"`
}

// Plan fetches routes for req and remembers req even when the fetch fails
func (p *Planner) Plan(ctx context.Context, req Request) (*navigation.Route, error) {
	p.mu.Lock()
	r := req
	p.request = &r
	p.mu.Unlock()
	return p.run(ctx, r)
}

// Retry re-issues the last request
func (p *Planner) Retry(ctx context.Context) (*navigation.Route, error) {
	p.mu.Lock()
	if p.request == nil {
		p.mu.Unlock()
		return nil, shared.ErrInvalidOperation("retry before any route request")
	}
	req := *p.request
	p.mu.Unlock()
	return p.run(ctx, req)
}

func (p *Planner) run(ctx context.Context, req Request) (*navigation.Route, error) {
	p.mu.Lock()
	p.state = StateLoading
	p.mu.Unlock()

	routes, err := p.fetcher.Fetch(ctx, req)
	if err == nil && len(routes) == 0 {
		err = errNoRoute
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if !shared.HasCode(err, shared.ErrCodeRouteUnavailable) {
			err = shared.ErrRouteUnavailable(err)
		}
		p.state, p.routes, p.selected, p.lastErr = StateUnavailable, nil, 0, err
		return nil, err
	}
	p.state, p.routes, p.selected, p.lastErr = StateReady, routes, 0, nil
	route := p.routes[0]
	return &route, nil
}

// Select chooses an alternative route by index
func (p *Planner) Select(index int) (*navigation.Route, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateReady {
		return nil, shared.NewDomainError(shared.ErrCodeNoRouteSelected, "No routes to select from")
	}
	if index < 0 || index >= len(p.routes) {
		return nil, shared.NewDomainErrorf(shared.ErrCodeInvalidRouteIndex, "Route index %d out of range [0,%d)", index, len(p.routes))
	}
	p.selected = index
	route := p.routes[index]
	return &route, nil
}

// Selected returns the chosen route
func (p *Planner) Selected() (*navigation.Route, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady {
		return nil, false
	}
	route := p.routes[p.selected]
	return &route, true
}

// State returns the planner state
func (p *Planner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the last fetch error while unavailable
func (p *Planner) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Result snapshots the planner
func (p *Planner) Result() PlanResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := PlanResult{State: p.state, Selected: p.selected}
	if p.request != nil {
		r := *p.request
		res.Request = &r
	}
	res.Routes = append([]navigation.Route(nil), p.routes...)
	return res
}
