package rest

import (
	"errors"
	"log/slog"
	"net/http"

	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/pkg/web"
)

type errorStatus struct {
	err    error
	status int
}

// statusTable is matched in order; the first sentinel found in the chain decides the status.
var statusTable = []errorStatus{
	{sferrors.ErrSessionInvalidated, http.StatusUnauthorized},
	{sferrors.ErrReauthRequired, http.StatusUnauthorized},
	{sferrors.ErrUnauthorized, http.StatusUnauthorized},

	{sferrors.ErrOfferExpired, http.StatusGone},
	{sferrors.ErrQuoteSuperseded, http.StatusConflict},
	{sferrors.ErrQuoteStale, http.StatusConflict},
	{sferrors.ErrAdjustmentPending, http.StatusConflict},
	{sferrors.ErrConflict, http.StatusConflict},
	{sferrors.ErrPaymentNotAllowed, http.StatusConflict},
	{sferrors.ErrReconcilerStopped, http.StatusConflict},
	{sferrors.ErrOrderNotLoaded, http.StatusConflict},

	{sferrors.ErrCartEmpty, http.StatusUnprocessableEntity},
	{sferrors.ErrRecipientIncomplete, http.StatusUnprocessableEntity},
	{sferrors.ErrDestinationRequired, http.StatusUnprocessableEntity},
	{sferrors.ErrPointNotSelectable, http.StatusUnprocessableEntity},
	{sferrors.ErrOfferNotSelected, http.StatusUnprocessableEntity},
	{sferrors.ErrOfferNotFound, http.StatusUnprocessableEntity},

	{sferrors.ErrDeliveryTypeInvalid, http.StatusBadRequest},
	{sferrors.ErrLocationRequired, http.StatusBadRequest},
	{sferrors.ErrEmailRequired, http.StatusBadRequest},
	{sferrors.ErrInvalidQuantity, http.StatusBadRequest},
	{sferrors.ErrInvalidDelta, http.StatusBadRequest},
	{sferrors.ErrIdempotencyKeyRequired, http.StatusBadRequest},
	{sferrors.ErrInvalidStatus, http.StatusBadRequest},
	{sferrors.ErrBadRequest, http.StatusBadRequest},

	{sferrors.ErrNotFound, http.StatusNotFound},

	{sferrors.ErrRedirectMissing, http.StatusBadGateway},
	{sferrors.ErrLinkMissing, http.StatusBadGateway},
	{sferrors.ErrBackendUnavailable, http.StatusBadGateway},

	{sferrors.ErrShuttingDown, http.StatusServiceUnavailable},
}

func statusOf(err error) int {
	for _, es := range statusTable {
		if errors.Is(err, es.err) {
			return es.status
		}
	}
	return http.StatusInternalServerError
}

// respondErr writes err with the status of its sentinel. Unknown errors are logged and hidden.
func respondErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Unhandled error", "error", err)
		web.RespondError(w, logger, status, "Internal server error")
		return
	}
	logger.WarnContext(r.Context(), "Request failed", "status", status, "error", err)
	web.RespondError(w, logger, status, err.Error())
}

// respondOrderErr is respondErr for calls that may have created an order before failing.
// The order token is returned so the client can follow the order.
func respondOrderErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, orderToken string, err error) {
	if orderToken == "" {
		respondErr(w, r, logger, err)
		return
	}
	status := statusOf(err)
	logger.WarnContext(r.Context(), "Order created but request failed", "status", status, "order_token", orderToken, "error", err)
	web.RespondJSON(w, logger, status, map[string]string{"error": err.Error(), "order_token": orderToken})
}
