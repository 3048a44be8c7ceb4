package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
)

// VoteService records ballots and applies aggregated decisions.
type VoteService interface {
	RecordVote(ctx context.Context, caller common.Address, id domain.MarketID, kind domain.VoteKind, value bool) (*domain.Vote, error)
	AggregateVotes(ctx context.Context, caller common.Address, id domain.MarketID, kind domain.VoteKind, agree, disagree uint64) (*engine.Decision, error)
	ListVotes(ctx context.Context, id domain.MarketID, kind domain.VoteKind, opts domain.ListOpts) ([]domain.Vote, error)
}

// VoteHandler serves the proposal and dispute voting endpoints.
type VoteHandler struct {
	votes  VoteService
	logger *slog.Logger
}

// NewVoteHandler creates a VoteHandler.
func NewVoteHandler(votes VoteService, logger *slog.Logger) *VoteHandler {
	return &VoteHandler{votes: votes, logger: logHandler(logger, "vote")}
}

type voteRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=proposal dispute"`
	Value *bool  `json:"value" validate:"required"`
}

type aggregateRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=proposal dispute"`
	Agree    uint64 `json:"agree"`
	Disagree uint64 `json:"disagree"`
}

// RecordVote stores the caller's ballot. A user votes at most once per
// market and kind.
// POST /api/markets/{id}/votes
func (h *VoteHandler) RecordVote(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	v, err := h.votes.RecordVote(r.Context(), who, id, domain.VoteKind(req.Kind), *req.Value)
	if err != nil {
		writeServiceError(w, r, h.logger, "record vote", err)
		return
	}
	writeJSON(w, http.StatusCreated, newVoteResponse(v))
}

// ListVotes returns the recorded ballots of one kind (default proposal).
// GET /api/markets/{id}/votes?kind=dispute
func (h *VoteHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	kind := domain.VoteKindProposal
	if k := r.URL.Query().Get("kind"); k != "" {
		var err error
		if kind, err = domain.ParseVoteKind(k); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidInput", err.Error())
			return
		}
	}
	opts := parseListOpts(r)
	votes, err := h.votes.ListVotes(r.Context(), id, kind, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list votes", err)
		return
	}
	writeJSON(w, http.StatusOK, newList(votes, opts, newVoteResponse))
}

// AggregateVotes applies externally tallied counts as the decision for the
// market's current vote. Backend authority only.
// POST /api/markets/{id}/votes/aggregate
func (h *VoteHandler) AggregateVotes(w http.ResponseWriter, r *http.Request) {
	id, who, ok := marketAndCaller(w, r)
	if !ok {
		return
	}
	var req aggregateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	d, err := h.votes.AggregateVotes(r.Context(), who, id, domain.VoteKind(req.Kind), req.Agree, req.Disagree)
	if err != nil {
		writeServiceError(w, r, h.logger, "aggregate votes", err)
		return
	}
	writeJSON(w, http.StatusOK, newDecisionResponse(d))
}
