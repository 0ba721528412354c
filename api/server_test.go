package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/treasury/core"
	"github.com/axiomesh/treasury/repo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x1100000000000000000000000000000000000001"
	carol = "0x3300000000000000000000000000000000000003"
	bond  = "10"
)

func newTestServer(t *testing.T) (http.Handler, *core.MockClient) {
	c := repo.DefaultConfig(t.TempDir())
	c.DAO.Council = []string{alice}
	c.DAO.ProposalBond = bond
	c.DAO.BountyBond = bond

	reg := prometheus.NewRegistry()
	client := core.NewMockClient()
	d, err := core.NewDAO(context.Background(), c, client, core.WithRegisterer(reg))
	require.Nil(t, err)
	t.Cleanup(func() {
		_ = d.DB.Close()
	})
	return NewServer(d, &c.API, reg, log.New()).Handler(), client
}

func do(t *testing.T, h http.Handler, method, path, account, deposit string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.Nil(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if account != "" {
		req.Header.Set(HeaderAccountID, account)
	}
	if deposit != "" {
		req.Header.Set(HeaderAttachedDeposit, deposit)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const renameProposal = `{"description":"rename","kind":{"type":"config","params":{"config":{"name":"renamed","purpose":"p","metadata":""}}}}`

func TestProposalRoutes(t *testing.T) {
	h, client := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/proposals", carol, bond, renameProposal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 0, decode[idReply](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/proposals/0", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"type":"config"`)
	assert.Contains(t, rec.Body.String(), `"status":"InProgress"`)

	rec = do(t, h, http.MethodPost, "/proposals/0/votes", alice, "", voteRequest{Vote: core.VoteApprove})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, core.Approved, decode[statusReply](t, rec).Status)

	rec = do(t, h, http.MethodGet, "/config", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "renamed", decode[core.Config](t, rec).Name)

	rec = do(t, h, http.MethodGet, "/proposals?from=0&limit=5", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]json.RawMessage](t, rec), 1)

	refund, err := client.LastCall(0, core.PurposeRefund)
	require.Nil(t, err)
	assert.Equal(t, core.AccountID(carol), refund.Receiver)
}

func TestErrorStatus(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		account string
		deposit string
		body    any
		status  int
	}{
		{"missing account", http.MethodPost, "/proposals", "", bond, renameProposal, http.StatusBadRequest},
		{"bad deposit", http.MethodPost, "/proposals", carol, "ten", renameProposal, http.StatusBadRequest},
		{"bad body", http.MethodPost, "/proposals", carol, bond, "{", http.StatusBadRequest},
		{"unknown kind", http.MethodPost, "/proposals", carol, bond, `{"kind":{"type":"burn"}}`, http.StatusBadRequest},
		{"low bond", http.MethodPost, "/proposals", carol, "9", renameProposal, http.StatusPaymentRequired},
		{"missing proposal", http.MethodGet, "/proposals/7", "", "", nil, http.StatusNotFound},
		{"missing bounty", http.MethodGet, "/bounties/7", "", "", nil, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/treasury", "", "", nil, http.StatusNotFound},
		{"bad claim deadline", http.MethodPost, "/bounties/0/claims", carol, bond, claimRequest{Deadline: "soon"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.account, tt.deposit, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, h, http.MethodPost, "/proposals", carol, bond, renameProposal)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/proposals/0/votes", carol, "", voteRequest{Vote: core.VoteApprove})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = do(t, h, http.MethodPost, "/proposals/0/votes", alice, "", voteRequest{Vote: core.VoteApprove})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/proposals/0/votes", alice, "", voteRequest{Vote: core.VoteApprove})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOutcomeRoutes(t *testing.T) {
	h, client := newTestServer(t)

	transfer := `{"kind":{"type":"transfer","params":{"token_id":"","receiver_id":"` + carol + `","amount":"3"}}}`
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/proposals", carol, bond, transfer).Code)
	rec := do(t, h, http.MethodPost, "/proposals/0/votes", alice, "", voteRequest{Vote: core.VoteApprove})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.InProgress, decode[statusReply](t, rec).Status)

	call, err := client.LastCall(0, core.PurposeProposal)
	require.Nil(t, err)
	outcome := core.Outcome{Token: call.Token, Success: false}
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/outcomes", "", "", outcome).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/outcomes", "", "", outcome).Code)

	rec = do(t, h, http.MethodPost, "/proposals/0/finalize", alice, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.InProgress, decode[statusReply](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/proposals/0/callback", "", "", callbackRequest{Success: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.Approved, decode[statusReply](t, rec).Status)
	rec = do(t, h, http.MethodPost, "/proposals/0/callback", "", "", callbackRequest{Success: true})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBountyRoutes(t *testing.T) {
	h, _ := newTestServer(t)

	add := `{"kind":{"type":"add_bounty","params":{"bounty":{"description":"docs","token":"","amount":"50","times":1,"max_deadline":86400000000000}}}}`
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/proposals", carol, bond, add).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/proposals/0/votes", alice, "", voteRequest{Vote: core.VoteApprove}).Code)

	rec := do(t, h, http.MethodGet, "/bounties/0", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[core.Bounty](t, rec).Times)

	rec = do(t, h, http.MethodPost, "/bounties/0/claims", carol, bond, claimRequest{Deadline: "1h"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/bounties/0/claims", alice, bond, claimRequest{Deadline: "1h"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, "/bounties/0/claims", alice, bond, claimRequest{Deadline: "48h"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/bounties/0/claims", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[countReply](t, rec).Count)

	rec = do(t, h, http.MethodPost, "/bounties/0/claims/done", carol, bond, completeRequest{Description: "merged"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode[idReply](t, rec).ID)

	rec = do(t, h, http.MethodGet, "/accounts/"+carol+"/claims", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	claims := decode[[]core.BountyClaim](t, rec)
	require.Len(t, claims, 1)
	assert.True(t, claims[0].Completed)

	rec = do(t, h, http.MethodDelete, "/bounties/0/claims", carol, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, h, http.MethodPost, "/bounties/0/claims/"+carol+"/purge", alice, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBlobAndStakingRoutes(t *testing.T) {
	h, _ := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/blobs", carol, "", []byte("code"))
	require.Equal(t, http.StatusOK, rec.Code)
	hash := decode[hashReply](t, rec).Hash

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/blobs/"+hash.Hex(), "", "", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/blobs", alice, "", []byte("code")).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodDelete, "/blobs/"+hash.Hex(), alice, "", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/blobs/"+hash.Hex(), carol, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/blobs/"+hash.Hex(), "", "", nil).Code)

	rec = do(t, h, http.MethodGet, "/staking", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[stakingReply](t, rec).Set)

	rec = do(t, h, http.MethodPost, "/delegations/"+alice, carol, "", amountRequest{Amount: core.NewBalance(5)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	staking := `{"kind":{"type":"set_vote_token","params":{"staking_id":"` + carol + `"}}}`
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/proposals", alice, bond, staking).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/proposals/0/votes", alice, "", voteRequest{Vote: core.VoteApprove}).Code)

	rec = do(t, h, http.MethodPost, "/delegations/"+alice, carol, "", amountRequest{Amount: core.NewBalance(5)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "5", decode[balanceReply](t, rec).Balance.String())
	rec = do(t, h, http.MethodPost, "/delegations/"+alice+"/undelegate", carol, "", amountRequest{Amount: core.NewBalance(6)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/delegations", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", decode[balanceReply](t, rec).Balance.String())
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/proposals", carol, bond, renameProposal).Code)

	rec := do(t, h, http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `treasury_proposals_total{kind="config"} 1`))
}
