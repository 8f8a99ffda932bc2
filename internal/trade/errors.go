package trade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/atmx/bet-engine/internal/betinfo"
	"github.com/atmx/bet-engine/internal/contract"
	"github.com/atmx/bet-engine/internal/limiter"
	"github.com/atmx/bet-engine/internal/metrics"
	"github.com/atmx/bet-engine/internal/numeric"
	"github.com/atmx/bet-engine/internal/orderbook"
	"github.com/atmx/bet-engine/internal/scheduler"
	"github.com/atmx/bet-engine/internal/store"
)

// APIError is the only error shape that crosses the HTTP boundary.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%d %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func apiError(code int, msg string) *APIError {
	return &APIError{Code: code, Message: msg}
}

// ErrRetry is returned when the maker set matched inside the transaction
// differs from the one simulated before it.
var ErrRetry = apiError(http.StatusServiceUnavailable, "Please try betting again.")

var (
	errInsufficientBalance = apiError(http.StatusForbidden, "Insufficient balance.")
	errBanned              = apiError(http.StatusForbidden, "User is banned.")
	errUnauthenticated     = apiError(http.StatusUnauthorized, "Missing X-User-Id header.")
	errBadBody             = apiError(http.StatusBadRequest, "Invalid request body.")
)

// statusMessages maps domain sentinels to client-facing errors. Anything
// not listed (and not already an APIError) is an internal error.
var statusMessages = []struct {
	err  error
	code int
	msg  string
}{
	{store.ErrNotFound, http.StatusNotFound, "Not found."},
	{store.ErrExists, http.StatusConflict, "Already exists."},
	{store.ErrConflict, http.StatusServiceUnavailable, "Please try betting again."},
	{contract.ErrAnswerNotFound, http.StatusNotFound, "Answer not found."},
	{betinfo.ErrAnswerNotFound, http.StatusNotFound, "Answer not found."},

	{contract.ErrTradingClosed, http.StatusForbidden, "Trading is closed."},
	{contract.ErrResolved, http.StatusForbidden, "Contract is resolved."},
	{contract.ErrAnswerResolved, http.StatusForbidden, "Answer is resolved and cannot be bet on."},
	{contract.ErrTooFewAnswers, http.StatusForbidden, "Cannot bet until at least two answers are added."},
	{contract.ErrAPIStonk, http.StatusForbidden, "API users cannot bet on STONK contracts."},
	{betinfo.ErrTradeTooLarge, http.StatusForbidden, "Trade too large for current liquidity pool."},

	{contract.ErrUnsupported, http.StatusBadRequest, "Contract type/mechanism not supported."},
	{contract.ErrAnswerRequired, http.StatusBadRequest, "answerId must be specified for multi bets."},
	{contract.ErrExpiresInPast, http.StatusBadRequest, "Bet cannot expire in the past."},
	{contract.ErrLimitProbRange, http.StatusBadRequest, "limitProb must be between 0 and 1 exclusive."},
	{contract.ErrLimitProbStep, http.StatusBadRequest, "limitProb must be in increments of 0.01 (i.e. whole percentage points)."},
	{contract.ErrInvalidSlug, http.StatusBadRequest, "Invalid slug."},
	{contract.ErrInvalidSeed, http.StatusBadRequest, "Invalid contract."},
	{betinfo.ErrInvalidAmount, http.StatusBadRequest, "Amount must be a positive finite number."},
	{betinfo.ErrInvalidShares, http.StatusBadRequest, "Shares must be a positive finite number."},
	{orderbook.ErrInvalidAmount, http.StatusBadRequest, "Amount must be a positive finite number."},
	{orderbook.ErrInvalidLimitProb, http.StatusBadRequest, "Invalid limitProb."},

	{limiter.ErrRateLimited, http.StatusTooManyRequests, "Rate limit exceeded."},
	{scheduler.ErrClosed, http.StatusServiceUnavailable, "Server is shutting down."},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "Request timed out."},
	{context.Canceled, http.StatusServiceUnavailable, "Request cancelled."},

	{betinfo.ErrNonFinite, http.StatusInternalServerError, "Computed a non-finite value."},
	{betinfo.ErrArbitrage, http.StatusInternalServerError, "Arbitrage calculation failed."},
	{numeric.ErrNoConvergence, http.StatusInternalServerError, "Calculation did not converge."},
	{orderbook.ErrFillDiverged, http.StatusInternalServerError, "Order matching did not terminate."},
}

// toAPIError classifies err for the client.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &APIError{
			Code:    http.StatusBadRequest,
			Message: fmt.Sprintf("%s failed on the '%s' rule", fe.Field(), fe.Tag()),
			Field:   fe.Field(),
		}
	}
	for _, m := range statusMessages {
		if errors.Is(err, m.err) {
			return apiError(m.code, m.msg)
		}
	}
	return apiError(http.StatusInternalServerError, "internal error")
}

// writeError writes err as a JSON APIError. Internal errors are logged with
// their cause; the client only sees the generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	if apiErr.Code >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "code", apiErr.Code, "err", err)
	}
	metrics.Rejections.WithLabelValues(strconv.Itoa(apiErr.Code)).Inc()
	writeJSON(w, apiErr.Code, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
