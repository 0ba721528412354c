package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/axiomesh/treasury/core"
	"github.com/axiomesh/treasury/repo"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	HeaderAccountID       = "X-Account-Id"
	HeaderAttachedDeposit = "X-Attached-Deposit"
)

// Server exposes the treasury entry points over HTTP. The fronting gateway
// authenticates callers and passes their identity and deposit in headers.
type Server struct {
	DAO    *core.DAO
	Logger *logrus.Logger
	Config *repo.API

	router   *mux.Router
	gatherer prometheus.Gatherer
	srv      *http.Server
}

// NewServer routes every entry point. A nil gatherer disables /metrics.
func NewServer(dao *core.DAO, config *repo.API, gatherer prometheus.Gatherer, logger *logrus.Logger) *Server {
	s := &Server{
		DAO:      dao,
		Logger:   logger,
		Config:   config,
		router:   mux.NewRouter(),
		gatherer: gatherer,
	}
	s.routes()
	return s
}

func (s *Server) addRoute(method string, route string, handler http.HandlerFunc) {
	s.router.StrictSlash(true).HandleFunc(route, s.logging(handler)).Methods(method)
}

func (s *Server) routes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusNotFound, errorReply{Error: "route not found"})
	})

	s.addRoute(http.MethodGet, "/proposals", s.handleProposals)
	s.addRoute(http.MethodPost, "/proposals", s.handleAddProposal)
	s.addRoute(http.MethodGet, "/proposals/{id:[0-9]+}", s.handleProposal)
	s.addRoute(http.MethodPost, "/proposals/{id:[0-9]+}/votes", s.handleVote)
	s.addRoute(http.MethodPost, "/proposals/{id:[0-9]+}/finalize", s.handleFinalize)
	s.addRoute(http.MethodPost, "/proposals/{id:[0-9]+}/remove", s.handleRemoveProposal)
	s.addRoute(http.MethodPost, "/proposals/{id:[0-9]+}/callback", s.handleCallback)
	s.addRoute(http.MethodPost, "/outcomes", s.handleOutcome)

	s.addRoute(http.MethodGet, "/bounties/{id:[0-9]+}", s.handleBounty)
	s.addRoute(http.MethodGet, "/bounties/{id:[0-9]+}/claims", s.handleBountyClaimCount)
	s.addRoute(http.MethodPost, "/bounties/{id:[0-9]+}/claims", s.handleClaimBounty)
	s.addRoute(http.MethodDelete, "/bounties/{id:[0-9]+}/claims", s.handleGiveUpBounty)
	s.addRoute(http.MethodPost, "/bounties/{id:[0-9]+}/claims/done", s.handleCompleteBounty)
	s.addRoute(http.MethodPost, "/bounties/{id:[0-9]+}/claims/{account}/purge", s.handlePurgeClaim)
	s.addRoute(http.MethodGet, "/accounts/{account}/claims", s.handleAccountClaims)

	s.addRoute(http.MethodGet, "/delegations", s.handleTotalDelegation)
	s.addRoute(http.MethodGet, "/delegations/{account}", s.handleDelegation)
	s.addRoute(http.MethodPost, "/delegations/{account}", s.handleDelegate)
	s.addRoute(http.MethodPost, "/delegations/{account}/undelegate", s.handleUndelegate)

	s.addRoute(http.MethodPost, "/blobs", s.handleStoreBlob)
	s.addRoute(http.MethodGet, "/blobs/{hash}", s.handleHasBlob)
	s.addRoute(http.MethodDelete, "/blobs/{hash}", s.handleRemoveBlob)

	s.addRoute(http.MethodGet, "/policy", s.handlePolicy)
	s.addRoute(http.MethodGet, "/config", s.handleConfig)
	s.addRoute(http.MethodGet, "/factory", s.handleFactoryInfo)
	s.addRoute(http.MethodGet, "/staking", s.handleStakingContract)

	if s.gatherer != nil && s.Config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.Config.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.Config.ListenAddr)
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Errorf("api server error: %s", err)
		}
	}()
	s.Logger.Infof("api listening on %s", ln.Addr())
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) logging(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Logger.Debugf("%s %s %s", r.RemoteAddr, r.Method, r.URL)
		f(w, r)
	}
}

type errorReply struct {
	Error string `json:"error"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

var errorStatus = []struct {
	err    error
	status int
}{
	{core.ErrNoPermission, http.StatusForbidden},
	{core.ErrNotClaimOwner, http.StatusForbidden},
	{core.ErrNotStakingContract, http.StatusForbidden},
	{core.ErrNotBlobOwner, http.StatusForbidden},
	{core.ErrProposalNotFound, http.StatusNotFound},
	{core.ErrBountyNotFound, http.StatusNotFound},
	{core.ErrNoClaim, http.StatusNotFound},
	{core.ErrBlobNotFound, http.StatusNotFound},
	{core.ErrInsufficientBond, http.StatusPaymentRequired},
	{core.ErrAlreadyVoted, http.StatusConflict},
	{core.ErrInvalidTransition, http.StatusConflict},
	{core.ErrAllClaimed, http.StatusConflict},
	{core.ErrDoubleOutcome, http.StatusConflict},
	{core.ErrInvalidOutcomeMapping, http.StatusConflict},
	{core.ErrBlobExists, http.StatusConflict},
	{core.ErrStakingContractSet, http.StatusConflict},
	{core.ErrClaimCompleted, http.StatusConflict},
	{core.ErrClaimExpired, http.StatusConflict},
	{core.ErrClaimNotExpired, http.StatusConflict},
	{core.ErrNotInitialized, http.StatusServiceUnavailable},
	{core.ErrInvalidProposal, http.StatusBadRequest},
	{core.ErrUnknownKind, http.StatusBadRequest},
	{core.ErrInvalidPolicy, http.StatusBadRequest},
	{core.ErrDeadlineExceeded, http.StatusBadRequest},
	{core.ErrArithmeticOverflow, http.StatusBadRequest},
	{core.ErrRoleNotFound, http.StatusBadRequest},
	{core.ErrRoleNotGroup, http.StatusBadRequest},
	{core.ErrUnsupportedAction, http.StatusBadRequest},
	{errBadRequest, http.StatusBadRequest},
}

var errBadRequest = errors.New("bad request")

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	cause := errors.Cause(err)
	for _, e := range errorStatus {
		if cause == e.err {
			s.Logger.Infof("%s user error: %s", r.RemoteAddr, err)
			respondWithJSON(w, e.status, errorReply{Error: err.Error()})
			return
		}
	}
	s.Logger.Errorf("%s %s %s internal error: %s", r.RemoteAddr, r.Method, r.URL, err)
	respondWithJSON(w, http.StatusInternalServerError, errorReply{Error: "internal error"})
}
