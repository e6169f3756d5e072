package models

import "errors"

// Engine error taxonomy
var (
	// ErrIneligible marks a bid left out of an auction. It is never returned
	// to auction callers, only logged.
	ErrIneligible = errors.New("bid ineligible")
	// ErrInsufficientBudget is a soft signal from the click path
	ErrInsufficientBudget = errors.New("insufficient budget")
	// ErrNotFound means a campaign or bid vanished between auction and charge
	ErrNotFound = errors.New("not found")
	// ErrLedgerUnavailable means the atomic charge store could not be reached
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrInvalidBid and ErrInvalidCampaign are configuration errors rejected
	// at the lifecycle boundary
	ErrInvalidBid      = errors.New("invalid bid")
	ErrInvalidCampaign = errors.New("invalid campaign")
	// ErrMalformedBid is returned by the scorer for inputs it cannot rank
	ErrMalformedBid = errors.New("malformed bid")
	// ErrInvalidAuctionContext is returned for an empty placement context
	ErrInvalidAuctionContext = errors.New("invalid auction context")
)
