package loadtest

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"strings"

	"github.com/wesleyorama2/merchload/internal/dataset"
)

// ActionKind identifies one of the operations a virtual user can perform.
type ActionKind int

const (
	// FetchInfo reads the caller's balance, inventory and transfer history.
	FetchInfo ActionKind = iota
	// BuyItem purchases one catalog item.
	BuyItem
	// SendCoin transfers coins to another user.
	SendCoin
)

var actionNames = map[ActionKind]string{
	FetchInfo: "fetch_info",
	BuyItem:   "buy_item",
	SendCoin:  "send_coin",
}

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseActionKind converts a configuration name into an ActionKind.
func ParseActionKind(name string) (ActionKind, error) {
	for kind, n := range actionNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q (expected fetch_info, buy_item or send_coin)", name)
}

// ActionWeight is one bracket of a cumulative weight table.
type ActionWeight struct {
	UpperBound float64
	Kind       ActionKind
}

// WeightTable maps a uniform draw in [0, 1) onto an ActionKind.
//
// Upper bounds are strictly increasing and the last one is exactly 1.0. A
// draw belongs to the first bracket whose bound exceeds it, so a draw equal
// to a bound falls into the next bracket.
type WeightTable struct {
	brackets []ActionWeight
}

// NewWeightTable validates cumulative brackets and builds a table.
func NewWeightTable(brackets []ActionWeight) (*WeightTable, error) {
	if len(brackets) == 0 {
		return nil, fmt.Errorf("weight table is empty")
	}
	prev := 0.0
	for i, b := range brackets {
		if b.UpperBound <= prev {
			return nil, fmt.Errorf("bracket %d: upper bound %v must exceed %v", i, b.UpperBound, prev)
		}
		prev = b.UpperBound
	}
	if prev != 1.0 {
		return nil, fmt.Errorf("last upper bound must be 1.0, got %v", prev)
	}

	t := &WeightTable{brackets: make([]ActionWeight, len(brackets))}
	copy(t.brackets, brackets)
	return t, nil
}

// WeightTableFromProbabilities builds a cumulative table from per-action
// probabilities. Zero probabilities are skipped. The sum must be 1 within
// 1e-6; the final bound is pinned to exactly 1.0.
func WeightTableFromProbabilities(kinds []ActionKind, probs []float64) (*WeightTable, error) {
	if len(kinds) != len(probs) {
		return nil, fmt.Errorf("%d actions but %d weights", len(kinds), len(probs))
	}

	var brackets []ActionWeight
	sum := 0.0
	for i, p := range probs {
		if p < 0 || math.IsNaN(p) {
			return nil, fmt.Errorf("action %s: weight %v must be non-negative", kinds[i], p)
		}
		if p == 0 {
			continue
		}
		sum += p
		brackets = append(brackets, ActionWeight{UpperBound: sum, Kind: kinds[i]})
	}
	if len(brackets) == 0 {
		return nil, fmt.Errorf("all action weights are zero")
	}
	if math.Abs(sum-1.0) > 1e-6 {
		return nil, fmt.Errorf("action weights sum to %v, want 1", sum)
	}
	brackets[len(brackets)-1].UpperBound = 1.0

	return NewWeightTable(brackets)
}

// DefaultWeightTable returns the 75/15/10 FetchInfo/BuyItem/SendCoin mix.
func DefaultWeightTable() *WeightTable {
	return &WeightTable{brackets: []ActionWeight{
		{UpperBound: 0.75, Kind: FetchInfo},
		{UpperBound: 0.90, Kind: BuyItem},
		{UpperBound: 1.0, Kind: SendCoin},
	}}
}

// Select returns the kind whose bracket contains r.
func (t *WeightTable) Select(r float64) ActionKind {
	for _, b := range t.brackets {
		if r < b.UpperBound {
			return b.Kind
		}
	}
	return t.brackets[len(t.brackets)-1].Kind
}

// Probability returns the share of draws that select kind.
func (t *WeightTable) Probability(kind ActionKind) float64 {
	prev := 0.0
	p := 0.0
	for _, b := range t.brackets {
		if b.Kind == kind {
			p += b.UpperBound - prev
		}
		prev = b.UpperBound
	}
	return p
}

// Brackets returns a copy of the cumulative brackets.
func (t *WeightTable) Brackets() []ActionWeight {
	out := make([]ActionWeight, len(t.brackets))
	copy(out, t.brackets)
	return out
}

// DefaultCatalog is the set of items BuyItem picks from.
var DefaultCatalog = []string{"cup", "book", "pen", "socks", "wallet"}

// Default SendCoin amount range, inclusive.
const (
	DefaultMinAmount = 1
	DefaultMaxAmount = 25
)

// Action is one fully parameterized operation for a single iteration.
type Action struct {
	Kind       ActionKind
	UserIndex  int
	Token      string
	Item       string
	ToUsername string
	Amount     int
}

// Workload knows how to draw actions for virtual users.
type Workload struct {
	Data      *dataset.Dataset
	Weights   *WeightTable
	Catalog   []string
	MinAmount int
	MaxAmount int
}

// NewWorkload creates a workload with the default mix, catalog and amounts.
func NewWorkload(data *dataset.Dataset) *Workload {
	return &Workload{
		Data:      data,
		Weights:   DefaultWeightTable(),
		Catalog:   DefaultCatalog,
		MinAmount: DefaultMinAmount,
		MaxAmount: DefaultMaxAmount,
	}
}

// Validate checks that every action the weight table can select is drawable.
func (w *Workload) Validate() error {
	if w.Data == nil || w.Data.Len() == 0 {
		return &InvariantError{Op: "Workload", Message: "dataset has no users"}
	}
	if w.Weights == nil {
		return &InvariantError{Op: "Workload", Message: "no weight table"}
	}
	if w.Weights.Probability(BuyItem) > 0 && len(w.Catalog) == 0 {
		return &InvariantError{Op: "Workload", Message: "buy_item has weight but the catalog is empty"}
	}
	if w.Weights.Probability(SendCoin) > 0 {
		if w.Data.Len() < 2 {
			return &InvariantError{Op: "Workload", Message: "send_coin needs at least 2 users"}
		}
		if w.MinAmount < 1 || w.MaxAmount < w.MinAmount {
			return &InvariantError{
				Op:      "Workload",
				Message: fmt.Sprintf("invalid amount range [%d, %d]", w.MinAmount, w.MaxAmount),
			}
		}
	}
	return nil
}

// Next draws the user, the action kind and the action's parameters.
func (w *Workload) Next(rng *rand.Rand) (*Action, error) {
	n := w.Data.Len()
	if n == 0 {
		return nil, &InvariantError{Op: "Workload.Next", Message: "dataset has no users"}
	}

	userIdx := rng.IntN(n)
	action := &Action{
		Kind:      w.Weights.Select(rng.Float64()),
		UserIndex: userIdx,
		Token:     w.Data.Token(userIdx),
	}

	switch action.Kind {
	case BuyItem:
		if len(w.Catalog) == 0 {
			return nil, &InvariantError{Op: "Workload.Next", Message: "catalog is empty"}
		}
		action.Item = w.Catalog[rng.IntN(len(w.Catalog))]
	case SendCoin:
		to, err := SampleExcluding(rng, n, userIdx)
		if err != nil {
			return nil, err
		}
		action.ToUsername = w.Data.Username(to)
		action.Amount = w.MinAmount + rng.IntN(w.MaxAmount-w.MinAmount+1)
	}

	return action, nil
}

// Request is a transport-neutral description of an HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

type sendCoinBody struct {
	ToUser string `json:"toUser"`
	Amount int    `json:"amount"`
}

// Request builds the HTTP call for the action against baseURL.
func (a *Action) Request(baseURL string) (*Request, error) {
	base := strings.TrimRight(baseURL, "/")
	headers := map[string]string{
		"Accept":        "application/json",
		"Authorization": "Bearer " + a.Token,
	}

	switch a.Kind {
	case FetchInfo:
		return &Request{Method: "GET", URL: base + "/api/info", Headers: headers}, nil
	case BuyItem:
		return &Request{Method: "GET", URL: base + "/api/buy/" + url.PathEscape(a.Item), Headers: headers}, nil
	case SendCoin:
		body, err := json.Marshal(sendCoinBody{ToUser: a.ToUsername, Amount: a.Amount})
		if err != nil {
			return nil, fmt.Errorf("failed to encode sendCoin body: %w", err)
		}
		headers["Content-Type"] = "application/json"
		return &Request{Method: "POST", URL: base + "/api/sendCoin", Headers: headers, Body: body}, nil
	default:
		return nil, &InvariantError{Op: "Action.Request", Message: fmt.Sprintf("unknown action kind %d", a.Kind)}
	}
}
