package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/axiomesh/treasury/core"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	defaultPageLimit = 100
	maxBlobSize      = 64 << 20
)

// caller reads the identity and the attached deposit set by the gateway.
func caller(r *http.Request) (core.Caller, error) {
	account := r.Header.Get(HeaderAccountID)
	if account == "" {
		return core.Caller{}, errors.Wrapf(errBadRequest, "missing %s header", HeaderAccountID)
	}
	deposit, err := core.ParseBalance(r.Header.Get(HeaderAttachedDeposit))
	if err != nil {
		return core.Caller{}, errors.Wrap(errBadRequest, err.Error())
	}
	return core.Caller{Account: core.AccountID(account), Deposit: deposit}, nil
}

func pathUint(r *http.Request, name string) (uint64, error) {
	n, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errBadRequest, "invalid %s", name)
	}
	return n, nil
}

func queryUint(r *http.Request, name string, fallback uint64) (uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(errBadRequest, "invalid %s", name)
	}
	return n, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrapf(errBadRequest, "decode body: %s", err)
	}
	return nil
}

type idReply struct {
	ID uint64 `json:"id"`
}

type statusReply struct {
	Status core.ProposalStatus `json:"status"`
}

type voteRequest struct {
	Vote core.Vote `json:"vote"`
}

type callbackRequest struct {
	Success bool `json:"success"`
}

func (s *Server) handleAddProposal(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var input core.ProposalInput
	if err := decodeBody(r, &input); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	id, err := s.DAO.AddProposal(r.Context(), c, input)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, idReply{ID: id})
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	from, err := queryUint(r, "from", 0)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	limit, err := queryUint(r, "limit", defaultPageLimit)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	proposals, err := s.DAO.Proposals(from, limit)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if proposals == nil {
		proposals = []*core.Proposal{}
	}
	respondWithJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	p, err := s.DAO.Proposal(id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	status, err := s.DAO.Vote(r.Context(), c, id, req.Vote)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, statusReply{Status: status})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	status, err := s.DAO.Finalize(r.Context(), c, id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, statusReply{Status: status})
}

func (s *Server) handleRemoveProposal(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.DAO.RemoveProposal(r.Context(), c, id); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, statusReply{Status: core.Removed})
}

// handleCallback settles the call a proposal awaits, for transports that
// report back out of band.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var req callbackRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.DAO.ReconcileCallback(r.Context(), id, req.Success); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	p, err := s.DAO.Proposal(id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, statusReply{Status: p.Status})
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome core.Outcome
	if err := decodeBody(r, &outcome); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.DAO.OnOutcome(r.Context(), outcome); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type claimRequest struct {
	Deadline string `json:"deadline"`
}

type completeRequest struct {
	Description string `json:"description"`
}

type countReply struct {
	Count int `json:"count"`
}

func (s *Server) handleBounty(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	bounty, err := s.DAO.Bounty(id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bounty)
}

func (s *Server) handleBountyClaimCount(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	n, err := s.DAO.BountyNumberOfClaims(id)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, countReply{Count: n})
}

func (s *Server) handleClaimBounty(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	deadline, err := time.ParseDuration(req.Deadline)
	if err != nil {
		s.respondWithError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	if err := s.DAO.ClaimBounty(r.Context(), c, id, deadline); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGiveUpBounty(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.DAO.GiveUpBounty(r.Context(), c, core.ClaimRef{BountyID: id, Account: c.Account}); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCompleteBounty(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var req completeRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	proposal, err := s.DAO.CompleteBounty(r.Context(), c, core.ClaimRef{BountyID: id, Account: c.Account}, req.Description)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, idReply{ID: proposal})
}

func (s *Server) handlePurgeClaim(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	id, err := pathUint(r, "id")
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	ref := core.ClaimRef{BountyID: id, Account: core.AccountID(mux.Vars(r)["account"])}
	if err := s.DAO.PurgeClaim(r.Context(), c, ref); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccountClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := s.DAO.BountyClaims(core.AccountID(mux.Vars(r)["account"]))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if claims == nil {
		claims = []core.BountyClaim{}
	}
	respondWithJSON(w, http.StatusOK, claims)
}

type amountRequest struct {
	Amount core.Balance `json:"amount"`
}

type balanceReply struct {
	Balance core.Balance `json:"balance"`
}

func (s *Server) handleDelegation(w http.ResponseWriter, r *http.Request) {
	balance, err := s.DAO.DelegationOf(core.AccountID(mux.Vars(r)["account"]))
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, balanceReply{Balance: balance})
}

func (s *Server) handleTotalDelegation(w http.ResponseWriter, r *http.Request) {
	balance, err := s.DAO.TotalDelegation()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, balanceReply{Balance: balance})
}

func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	s.adjustDelegation(w, r, s.DAO.Delegate)
}

func (s *Server) handleUndelegate(w http.ResponseWriter, r *http.Request) {
	s.adjustDelegation(w, r, s.DAO.Undelegate)
}

func (s *Server) adjustDelegation(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, c core.Caller, account core.AccountID, amount core.Balance) error) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	account := core.AccountID(mux.Vars(r)["account"])
	if err := op(r.Context(), c, account, req.Amount); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	s.handleDelegation(w, r)
}

type hashReply struct {
	Hash common.Hash `json:"hash"`
}

func (s *Server) handleStoreBlob(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	code, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobSize))
	if err != nil {
		s.respondWithError(w, r, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	hash, err := s.DAO.StoreBlob(r.Context(), c, code)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, hashReply{Hash: hash})
}

func (s *Server) handleHasBlob(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(mux.Vars(r)["hash"])
	if !s.DAO.HasBlob(hash) {
		s.respondWithError(w, r, errors.Wrapf(core.ErrBlobNotFound, "blob %s", hash))
		return
	}
	respondWithJSON(w, http.StatusOK, hashReply{Hash: hash})
}

func (s *Server) handleRemoveBlob(w http.ResponseWriter, r *http.Request) {
	c, err := caller(r)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.DAO.RemoveBlob(r.Context(), c, common.HexToHash(mux.Vars(r)["hash"])); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := s.DAO.Policy()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, policy)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	config, err := s.DAO.DAOConfig()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, config)
}

func (s *Server) handleFactoryInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.DAO.FactoryInfo()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

type stakingReply struct {
	StakingID core.AccountID `json:"staking_id,omitempty"`
	Set       bool           `json:"set"`
}

func (s *Server) handleStakingContract(w http.ResponseWriter, r *http.Request) {
	id, ok := s.DAO.StakingContract()
	respondWithJSON(w, http.StatusOK, stakingReply{StakingID: id, Set: ok})
}
