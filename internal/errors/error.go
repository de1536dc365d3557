// Package errors provides the storefront's error taxonomy.
//
// Precondition errors are returned before any network call is made.
// Transport errors come from the backend client and are surfaced for user-initiated actions.
// Authorization errors mean the session can no longer be trusted for money-moving actions.
package errors

import "errors"

// Precondition errors.
var ErrCartEmpty = errors.New("cart is empty")
var ErrRecipientIncomplete = errors.New("recipient first name and phone are required")
var ErrDestinationRequired = errors.New("delivery destination is required")
var ErrDeliveryTypeInvalid = errors.New("delivery type must be COURIER or PICKUP")
var ErrPointNotSelectable = errors.New("pickup point is not confirmed by the backend and cannot be selected")
var ErrLocationRequired = errors.New("location is required to search pickup points")
var ErrOfferNotSelected = errors.New("no delivery offer selected")
var ErrOfferNotFound = errors.New("delivery offer is not part of the current quote")
var ErrOfferExpired = errors.New("delivery offer expired, request new offers")
var ErrEmailRequired = errors.New("receipt email is required")
var ErrInvalidQuantity = errors.New("quantity must be greater than zero")
var ErrInvalidDelta = errors.New("stock delta must not be zero")
var ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
var ErrPaymentNotAllowed = errors.New("order is already paid, delivered or refunded")
var ErrInvalidStatus = errors.New("unknown order status")
var ErrAdjustmentPending = errors.New("another stock adjustment of this variant is pending, retry or discard it first")

// Outcome errors.
var ErrQuoteStale = errors.New("cart changed since delivery offers were quoted, request new offers")
var ErrQuoteSuperseded = errors.New("delivery destination changed while offers were requested")
var ErrRedirectMissing = errors.New("backend accepted the request but returned no payment redirect")
var ErrLinkMissing = errors.New("backend returned no public order link")

// Transport errors.
var ErrNotFound = errors.New("resource not found")
var ErrConflict = errors.New("request conflicts with current backend state")
var ErrBadRequest = errors.New("backend rejected the request")
var ErrBackendUnavailable = errors.New("backend is unavailable")

// Authorization errors.
var ErrUnauthorized = errors.New("session is not authorized")
var ErrReauthRequired = errors.New("session was invalidated, sign in again before retrying")
var ErrSessionInvalidated = errors.New("session was invalidated while the request was in flight, outcome unknown")

// Lifecycle errors.
var ErrReconcilerStopped = errors.New("order watcher was stopped")
var ErrOrderNotLoaded = errors.New("order is not loaded yet")
var ErrShuttingDown = errors.New("storefront is shutting down")
