package api

import (
	"errors"
	"net/http"

	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/backend"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/chain"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/odds"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/picks"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/session"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/txdriver"
	"github.com/phenomenon0/oddyssey-agent/pkg/oddyssey/validate"
)

// errBadRequest marks malformed input.
var errBadRequest = errors.New("bad request")

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }
func (e badRequest) Unwrap() error { return errBadRequest }

// ErrorBody is the JSON error shape. Detail carries the raw error text and
// is never meant for display.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// errorCode maps an error onto an HTTP status and a stable code with a
// user-facing message.
func errorCode(err error) (int, ErrorBody) {
	body := ErrorBody{Detail: err.Error()}

	var fail *validate.Failure
	var apiErr *backend.APIError
	switch {
	case errors.As(err, &fail):
		body.Code, body.Message = string(fail.Reason), fail.Error()
		body.Detail = ""
		return http.StatusUnprocessableEntity, body

	case errors.Is(err, errBadRequest):
		body.Code, body.Message = "bad_request", err.Error()
		body.Detail = ""
		return http.StatusBadRequest, body

	case errors.Is(err, picks.ErrMatchNotFound):
		body.Code, body.Message = "match_not_found", "This match is not part of the current cycle"
		return http.StatusNotFound, body
	case errors.Is(err, picks.ErrMarketClosed):
		body.Code, body.Message = "market_closed", "Betting on this match is closed"
		return http.StatusConflict, body
	case errors.Is(err, picks.ErrOddsUnavailable):
		body.Code, body.Message = "odds_unavailable", "Odds are not available for this outcome"
		return http.StatusConflict, body
	case errors.Is(err, picks.ErrSlipFull):
		body.Code, body.Message = "slip_full", "Your slip already has 10 picks"
		return http.StatusConflict, body

	case errors.Is(err, txdriver.ErrInProgress):
		body.Code, body.Message = "submission_in_progress", "A transaction is already in progress"
		return http.StatusConflict, body
	case errors.Is(err, session.ErrNotClaimable):
		body.Code, body.Message = "not_claimable", "This slip has no prize to claim"
		return http.StatusConflict, body
	case errors.Is(err, chain.ErrAlreadyClaimed):
		body.Code, body.Message = "already_claimed", "This prize was already claimed"
		return http.StatusConflict, body

	case errors.Is(err, session.ErrNoBackend):
		body.Code, body.Message = "backend_unavailable", "Evaluation service is not configured"
		return http.StatusServiceUnavailable, body
	case errors.Is(err, odds.ErrFetch):
		body.Code, body.Message = "fetch_failed", "Could not load match data, showing the last known state"
		return http.StatusBadGateway, body
	case errors.As(err, &apiErr):
		body.Code, body.Message = "backend_error", "Evaluation service error"
		return http.StatusBadGateway, body
	}

	body.Code, body.Message = "internal", "Something went wrong"
	return http.StatusInternalServerError, body
}

// transactionError renders a failed submission with its classified cause.
func transactionError(pt txdriver.PendingTransaction) ErrorBody {
	return ErrorBody{
		Code:    pt.Cause.String(),
		Message: pt.Message,
		Detail:  pt.Detail,
	}
}
