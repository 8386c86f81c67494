// Package merchtest provides an in-memory merch API for exercising the load
// generator end to end.
package merchtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/merchload/internal/dataset"
)

// DefaultBalance is the number of coins every user starts with.
const DefaultBalance = 1000

// DefaultPrices is the catalog the fake service sells.
var DefaultPrices = map[string]int{
	"cup":    20,
	"book":   50,
	"pen":    10,
	"socks":  10,
	"wallet": 50,
}

// Options tunes the fake service.
type Options struct {
	// Balance is every user's starting coins (default: DefaultBalance)
	Balance int

	// Prices overrides the catalog
	Prices map[string]int

	// Latency is added to every request
	Latency time.Duration
}

// Server is an httptest server emulating the merch API.
type Server struct {
	*httptest.Server

	// FailInfo makes /api/info answer 500.
	FailInfo atomic.Bool

	InfoRequests atomic.Int64
	BuyRequests  atomic.Int64
	SendRequests atomic.Int64

	latency time.Duration
	prices  map[string]int

	mu        sync.Mutex
	users     []string
	tokenList []string
	tokens    map[string]string
	balances  map[string]int
	inventory map[string]map[string]int
	received  map[string][]transfer
	sent      map[string][]transfer

	inFlight    map[string]int
	overlapping atomic.Int64
}

type transfer struct {
	Peer   string
	Amount int
}

// Users returns n usernames and their tokens, index-aligned.
func Users(n int) (users, tokens []string) {
	for i := 0; i < n; i++ {
		users = append(users, fmt.Sprintf("user%d", i))
		tokens = append(tokens, fmt.Sprintf("token-%d", i))
	}
	return users, tokens
}

// NewServer starts a fake service that knows users and authenticates them by
// the token at the same index. Close it when done.
func NewServer(users, tokens []string, opts Options) *Server {
	if opts.Balance == 0 {
		opts.Balance = DefaultBalance
	}
	if opts.Prices == nil {
		opts.Prices = DefaultPrices
	}

	s := &Server{
		latency:   opts.Latency,
		prices:    opts.Prices,
		users:     users,
		tokenList: tokens,
		tokens:    make(map[string]string, len(tokens)),
		balances:  make(map[string]int, len(users)),
		inventory: make(map[string]map[string]int, len(users)),
		received:  make(map[string][]transfer),
		sent:      make(map[string][]transfer),
		inFlight:  make(map[string]int),
	}
	for i, u := range users {
		s.balances[u] = opts.Balance
		s.inventory[u] = make(map[string]int)
		if i < len(tokens) {
			s.tokens[tokens[i]] = u
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/info", s.auth(s.handleInfo))
	mux.HandleFunc("GET /api/buy/{item}", s.auth(s.handleBuy))
	mux.HandleFunc("POST /api/sendCoin", s.auth(s.handleSendCoin))
	s.Server = httptest.NewServer(mux)
	return s
}

// Dataset returns the server's users and tokens as a dataset.
func (s *Server) Dataset(tb testing.TB) *dataset.Dataset {
	tb.Helper()
	users := make([]dataset.User, len(s.users))
	for i, u := range s.users {
		users[i] = dataset.User{Username: u}
	}
	ds, err := dataset.New(users, s.tokenList)
	if err != nil {
		tb.Fatalf("failed to build dataset: %v", err)
	}
	return ds
}

// Balance returns a user's current coins.
func (s *Server) Balance(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[username]
}

// TotalCoins returns the sum of every balance. Transfers conserve it.
func (s *Server) TotalCoins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, b := range s.balances {
		total += b
	}
	return total
}

// Overlapping returns how many requests arrived while another request with
// the same token was still being served.
func (s *Server) Overlapping() int64 {
	return s.overlapping.Load()
}

type userHandler func(w http.ResponseWriter, r *http.Request, username string)

func (s *Server) auth(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		username, known := s.tokens[token]
		s.mu.Unlock()
		if !ok || !known {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		s.mu.Lock()
		if s.inFlight[token] > 0 {
			s.overlapping.Add(1)
		}
		s.inFlight[token]++
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.inFlight[token]--
			s.mu.Unlock()
		}()

		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		next(w, r, username)
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request, username string) {
	s.InfoRequests.Add(1)
	if s.FailInfo.Load() {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	type inventoryItem struct {
		Type     string `json:"type"`
		Quantity int    `json:"quantity"`
	}
	type received struct {
		FromUser string `json:"fromUser"`
		Amount   int    `json:"amount"`
	}
	type sent struct {
		ToUser string `json:"toUser"`
		Amount int    `json:"amount"`
	}
	var body struct {
		Coins       int             `json:"coins"`
		Inventory   []inventoryItem `json:"inventory"`
		CoinHistory struct {
			Received []received `json:"received"`
			Sent     []sent     `json:"sent"`
		} `json:"coinHistory"`
	}

	s.mu.Lock()
	body.Coins = s.balances[username]
	body.Inventory = []inventoryItem{}
	for item, qty := range s.inventory[username] {
		body.Inventory = append(body.Inventory, inventoryItem{Type: item, Quantity: qty})
	}
	body.CoinHistory.Received = []received{}
	for _, t := range s.received[username] {
		body.CoinHistory.Received = append(body.CoinHistory.Received, received{FromUser: t.Peer, Amount: t.Amount})
	}
	body.CoinHistory.Sent = []sent{}
	for _, t := range s.sent[username] {
		body.CoinHistory.Sent = append(body.CoinHistory.Sent, sent{ToUser: t.Peer, Amount: t.Amount})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request, username string) {
	s.BuyRequests.Add(1)
	item := r.PathValue("item")
	price, ok := s.prices[item]
	if !ok {
		writeError(w, http.StatusBadRequest, "item does not exist")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[username] < price {
		writeError(w, http.StatusBadRequest, "not enough coins")
		return
	}
	s.balances[username] -= price
	s.inventory[username][item]++
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSendCoin(w http.ResponseWriter, r *http.Request, username string) {
	s.SendRequests.Add(1)
	var req struct {
		ToUser string `json:"toUser"`
		Amount int    `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "non-positive amount")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.balances[req.ToUser]; !ok {
		writeError(w, http.StatusBadRequest, "user does not exist")
		return
	}
	if req.ToUser == username {
		writeError(w, http.StatusBadRequest, "fromUser and toUser are equal")
		return
	}
	if s.balances[username] < req.Amount {
		writeError(w, http.StatusBadRequest, "not enough coins")
		return
	}
	s.balances[username] -= req.Amount
	s.balances[req.ToUser] += req.Amount
	s.sent[username] = append(s.sent[username], transfer{Peer: req.ToUser, Amount: req.Amount})
	s.received[req.ToUser] = append(s.received[req.ToUser], transfer{Peer: username, Amount: req.Amount})
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"errors": msg})
}

// WriteDataset writes users and tokens files in dir in the format the dataset
// loader reads and returns their absolute paths.
func WriteDataset(tb testing.TB, dir string, users, tokens []string) (usersPath, tokensPath string) {
	tb.Helper()

	type userRecord struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	records := make([]userRecord, len(users))
	for i, u := range users {
		records[i] = userRecord{Username: u, Password: "password"}
	}

	usersPath = filepath.Join(dir, "users.json")
	tokensPath = filepath.Join(dir, "tokens.json")
	writeFileJSON(tb, usersPath, records)
	writeFileJSON(tb, tokensPath, tokens)

	absUsers, err := filepath.Abs(usersPath)
	if err != nil {
		tb.Fatalf("abs: %v", err)
	}
	absTokens, err := filepath.Abs(tokensPath)
	if err != nil {
		tb.Fatalf("abs: %v", err)
	}
	return absUsers, absTokens
}

func writeFileJSON(tb testing.TB, path string, v any) {
	tb.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}
