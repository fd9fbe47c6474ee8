package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"flipcoin/internal/settlement"
	"flipcoin/internal/wager"
)

// Amounts travel as decimal wei strings; commitments as 0x hex or decimal field elements.

type createBetRequest struct {
	House        string `json:"house"`
	PlayerCommit string `json:"player_commit"`
	Amount       string `json:"amount"`
}

type houseCommitRequest struct {
	Commit string `json:"commit"`
}

// settleRequest carries either a proof (proof variant) or both preimages (reveal variant).
type settleRequest struct {
	Proof          string   `json:"proof,omitempty"`
	PublicSignals  []string `json:"public_signals,omitempty"`
	PlayerPreimage []uint64 `json:"player_preimage,omitempty"`
	HousePreimage  []uint64 `json:"house_preimage,omitempty"`
}

type testRandomnessRequest struct {
	Index int `json:"index"`
}

type fulfillRequest struct {
	RequestID  uint64 `json:"request_id"`
	RandomWord string `json:"random_word"`
}

type feeRequest struct {
	HouseFeeBP uint64 `json:"house_fee_bp"`
}

type limitsRequest struct {
	MinBet string `json:"min_bet"`
	MaxBet string `json:"max_bet"`
}

type depositRequest struct {
	Amount string `json:"amount"`
}

type betResponse struct {
	wager.Bet
	Status wager.Status `json:"status"`
}

type listResponse struct {
	Bets  []betResponse `json:"bets"`
	Total int           `json:"total"`
}

type paramsResponse struct {
	wager.Params
	FeeCeilingBP uint64              `json:"fee_ceiling_bp"`
	Variant      wager.Variant       `json:"variant"`
	Treasury     settlement.Snapshot `json:"treasury"`
	Bets         int                 `json:"bets"`
}

type withdrawResponse struct {
	Amount *uint256.Int `json:"amount"`
}

type accountResponse struct {
	Account common.Address `json:"account"`
	Balance *uint256.Int   `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

func newBetResponse(b wager.Bet) betResponse {
	return betResponse{Bet: b, Status: b.Status()}
}
