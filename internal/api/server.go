// Package api serves the wager operations over HTTP/JSON.
//
// The calling account is taken from the X-Account header. Oracle fulfillment authenticates with a
// bearer token instead.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"flipcoin/internal/fairness"
	"flipcoin/internal/oracle"
	"flipcoin/internal/settlement"
	"flipcoin/internal/wager"
)

// AccountHeader names the caller's address.
const AccountHeader = "X-Account"

const maxPage = 100

var (
	errBadRequest = errors.New("bad request")
	errNoAccount  = errors.New("missing or invalid " + AccountHeader + " header")
)

// Options configures a Server.
type Options struct {
	// OracleToken authenticates POST /oracle/fulfill. Empty disables the route.
	OracleToken string
	// Vault enables the dev funding routes when set.
	Vault             *settlement.Vault
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

type Server struct {
	log     *zap.Logger
	engine  *wager.Engine
	oracle  oracle.Fulfiller
	vault   *settlement.Vault
	token   string
	limiter *accountLimiter
	timeout time.Duration
}

func NewServer(log *zap.Logger, engine *wager.Engine, fulfiller oracle.Fulfiller, opts Options) *Server {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Server{
		log:     log.Named("api"),
		engine:  engine,
		oracle:  fulfiller,
		vault:   opts.Vault,
		token:   opts.OracleToken,
		limiter: newAccountLimiter(opts.RequestsPerSecond, opts.Burst),
		timeout: opts.Timeout,
	}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bets", s.account(s.createBet))
	mux.HandleFunc("GET /bets", s.listBets)
	mux.HandleFunc("GET /bets/{id}", s.getBet)
	mux.HandleFunc("POST /bets/{id}/house-commit", s.account(s.houseCommit))
	mux.HandleFunc("POST /bets/{id}/settle", s.account(s.settle))
	mux.HandleFunc("POST /bets/{id}/test-randomness", s.account(s.testRandomness))
	mux.HandleFunc("POST /oracle/fulfill", s.fulfill)
	mux.HandleFunc("GET /params", s.params)
	mux.HandleFunc("POST /admin/fee", s.account(s.updateFee))
	mux.HandleFunc("POST /admin/limits", s.account(s.updateLimits))
	mux.HandleFunc("POST /admin/withdraw", s.account(s.withdraw))
	if s.vault != nil {
		mux.HandleFunc("POST /accounts/{addr}/deposit", s.deposit)
		mux.HandleFunc("GET /accounts/{addr}", s.balance)
	}
	return s.withTimeout(s.logRequests(mux))
}

// PruneLimiters drops rate limit state for idle accounts.
func (s *Server) PruneLimiters(now time.Time) int {
	return s.limiter.Prune(now)
}

type accountHandler func(w http.ResponseWriter, r *http.Request, caller common.Address)

// account resolves the caller and applies its rate limit.
func (s *Server) account(next accountHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(AccountHeader)
		if !common.IsHexAddress(raw) {
			s.writeError(w, http.StatusUnauthorized, errNoAccount)
			return
		}
		caller := common.HexToAddress(raw)
		if !s.limiter.Allow(caller.Hex()) {
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next(w, r, caller)
	}
}

func (s *Server) createBet(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var req createBetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.House) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: house %q", errBadRequest, req.House))
		return
	}
	commit, err := fairness.ParseCommitment(req.PlayerCommit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: player_commit: %v", errBadRequest, err))
		return
	}
	amount, err := parseWei(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: amount: %v", errBadRequest, err))
		return
	}

	bet, err := s.engine.CreateBet(r.Context(), caller, common.HexToAddress(req.House), commit, amount)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBetResponse(bet))
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.betID(w, r)
	if !ok {
		return
	}
	bet, err := s.engine.BetInfo(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBetResponse(bet))
}

// listBets pages through the registry: ?from=<id>&limit=<n>, limit capped at maxPage.
func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from uint64
	if raw := q.Get("from"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: from: %v", errBadRequest, err))
			return
		}
		from = v
	}
	limit := maxPage
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = min(v, maxPage)
	}
	bets := s.engine.Bets(from, limit)
	resp := listResponse{Bets: make([]betResponse, len(bets)), Total: s.engine.Count()}
	for i, b := range bets {
		resp.Bets[i] = newBetResponse(b)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) houseCommit(w http.ResponseWriter, r *http.Request, caller common.Address) {
	id, ok := s.betID(w, r)
	if !ok {
		return
	}
	var req houseCommitRequest
	if !s.decode(w, r, &req) {
		return
	}
	commit, err := fairness.ParseCommitment(req.Commit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: commit: %v", errBadRequest, err))
		return
	}
	bet, err := s.engine.HouseCommit(r.Context(), caller, id, commit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBetResponse(bet))
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request, caller common.Address) {
	id, ok := s.betID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}
	claim, err := s.claim(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	bet, err := s.engine.Settle(r.Context(), caller, id, claim)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBetResponse(bet))
}

// claim builds the claim for the engine's variant from req.
func (s *Server) claim(req settleRequest) (wager.Claim, error) {
	switch s.engine.Variant() {
	case wager.VariantReveal:
		player, err := fairness.PreimageFromUint64s(req.PlayerPreimage)
		if err != nil {
			return nil, fmt.Errorf("%w: player_preimage: %v", errBadRequest, err)
		}
		house, err := fairness.PreimageFromUint64s(req.HousePreimage)
		if err != nil {
			return nil, fmt.Errorf("%w: house_preimage: %v", errBadRequest, err)
		}
		return wager.RevealClaim{Player: player, House: house}, nil
	default:
		proof, err := base64.StdEncoding.DecodeString(req.Proof)
		if err != nil || len(proof) == 0 {
			return nil, fmt.Errorf("%w: proof must be non-empty base64", errBadRequest)
		}
		signals, err := fairness.ParsePublicSignals(req.PublicSignals)
		if err != nil {
			return nil, fmt.Errorf("%w: public_signals: %v", errBadRequest, err)
		}
		return wager.ProofClaim{Proof: proof, Signals: signals}, nil
	}
}

func (s *Server) testRandomness(w http.ResponseWriter, r *http.Request, caller common.Address) {
	id, ok := s.betID(w, r)
	if !ok {
		return
	}
	var req testRandomnessRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SetRandomIndexForTest(r.Context(), caller, id, req.Index); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.getBet(w, r)
}

func (s *Server) fulfill(w http.ResponseWriter, r *http.Request) {
	if s.token == "" || s.oracle == nil {
		s.writeError(w, http.StatusForbidden, errors.New("oracle callbacks are disabled"))
		return
	}
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		s.writeError(w, http.StatusUnauthorized, errors.New("invalid oracle token"))
		return
	}
	var req fulfillRequest
	if !s.decode(w, r, &req) {
		return
	}
	word, err := parseWord(req.RandomWord)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: random_word: %v", errBadRequest, err))
		return
	}
	if err := s.oracle.Fulfill(r.Context(), req.RequestID, word); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) params(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, paramsResponse{
		Params:       s.engine.Params(),
		FeeCeilingBP: s.engine.FeeCeiling(),
		Variant:      s.engine.Variant(),
		Treasury:     s.engine.Treasury(),
		Bets:         s.engine.Count(),
	})
}

func (s *Server) updateFee(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var req feeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.UpdateHouseFee(r.Context(), caller, req.HouseFeeBP); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.params(w, r)
}

func (s *Server) updateLimits(w http.ResponseWriter, r *http.Request, caller common.Address) {
	var req limitsRequest
	if !s.decode(w, r, &req) {
		return
	}
	minBet, err := parseWei(req.MinBet)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: min_bet: %v", errBadRequest, err))
		return
	}
	maxBet, err := parseWei(req.MaxBet)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: max_bet: %v", errBadRequest, err))
		return
	}
	if err := s.engine.UpdateBetLimits(r.Context(), caller, minBet, maxBet); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.params(w, r)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request, caller common.Address) {
	amount, err := s.engine.EmergencyWithdraw(r.Context(), caller)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{Amount: amount})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := parseWei(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: amount: %v", errBadRequest, err))
		return
	}
	if err := s.vault.Deposit(addr, amount); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: addr, Balance: s.vault.Balance(addr)})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.address(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: addr, Balance: s.vault.Balance(addr)})
}

func (s *Server) betID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: bet id %q", errBadRequest, r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func (s *Server) address(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.PathValue("addr")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: address %q", errBadRequest, raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: bad json: %v", errBadRequest, err))
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Class: wager.Classify(err).String()})
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	class := wager.ClassValidation.String()
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		class = wager.ClassAuthorization.String()
	case http.StatusTooManyRequests:
		class = "rate_limited"
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Class: class})
}

// StatusFor maps an engine error onto an HTTP status.
func StatusFor(err error) int {
	switch wager.Classify(err) {
	case wager.ClassNone:
		return http.StatusOK
	case wager.ClassValidation:
		if errors.Is(err, wager.ErrPrecondition) {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case wager.ClassAuthorization:
		return http.StatusForbidden
	case wager.ClassNotFound:
		return http.StatusNotFound
	case wager.ClassProof:
		return http.StatusUnprocessableEntity
	case wager.ClassReplay:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func parseWei(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, errors.New("empty amount")
	}
	return uint256.FromDecimal(s)
}

// parseWord accepts a random word as decimal or 0x hex, leading zeros included.
func parseWord(s string) (*uint256.Int, error) {
	b, ok := new(big.Int).SetString(s, 0)
	if !ok || b.Sign() < 0 {
		return nil, fmt.Errorf("%q is not an unsigned integer", s)
	}
	word, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%q exceeds 256 bits", s)
	}
	return word, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
