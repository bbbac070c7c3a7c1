package domain

import (
	"encoding/json"
	"time"
)

const (
	ReasonRulesSatisfied    = "rules_satisfied"
	ReasonPaymentsRequested = "payments_requested"
	ReasonPaymentsSucceeded = "payments_succeeded"
	ReasonAdminReversal     = "admin_reversal"
)

// PalletTransition is the audit record of one status change, with snapshots
// of the pallet and its reservations on either side.
type PalletTransition struct {
	ID       string
	PalletID string
	From     PalletStatus
	To       PalletStatus
	Reason   string
	Actor    string
	Before   json.RawMessage
	After    json.RawMessage
	At       time.Time
}
