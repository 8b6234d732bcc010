// Package models defines the wire-level records exchanged between the
// gateway, the stream, the scoring engine and the alert surface.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RiskLevel buckets a fused score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// TransactionStatus is written back to the graph once scoring completes.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFlagged   TransactionStatus = "FLAGGED"
	StatusBlocked   TransactionStatus = "BLOCKED"
)

// CredentialSubType identifies how the payer authorised the transfer.
// Only the MPIN value participates in scoring; others pass through.
type CredentialSubType string

const (
	CredentialMPIN CredentialSubType = "MPIN"
	CredentialOTP  CredentialSubType = "OTP"
	CredentialBio  CredentialSubType = "BIOMETRIC"
)

// TransactionInput is the stream record (queue payload). Field names match
// the gateway's JSON keys. Unknown keys are preserved in Extra and ignored
// by scoring.
type TransactionInput struct {
	TxID           string  `json:"tx_id"`
	SenderID       string  `json:"sender_id"`
	ReceiverID     string  `json:"receiver_id"`
	Amount         float64 `json:"amount"`
	// Decoded from the string "timestamp" key; excluded here so the
	// embedded-struct marshal path cannot emit a second key for it.
	Timestamp      time.Time         `json:"-"`
	DeviceHash     string            `json:"device_hash"`
	DeviceOS       string            `json:"device_os"`
	IPAddress      string            `json:"ip_address"`
	SenderLat      float64           `json:"sender_lat"`
	SenderLon      float64           `json:"sender_lon"`
	Channel        string            `json:"channel"`
	CredentialType string            `json:"credential_type"`
	CredentialSub  CredentialSubType `json:"credential_sub_type"`
	UPIIDSender    string            `json:"upi_id_sender"`
	UPIIDReceiver  string            `json:"upi_id_receiver"`

	// Gateway enrichment carried through to the graph, optional.
	Currency       string `json:"currency"`
	TxnType        string `json:"txn_type"`
	ReceiverType   string `json:"receiver_type"`
	DeviceType     string `json:"device_type"`
	AppVersion     string `json:"app_version"`
	CapabilityMask string `json:"capability_mask"`
	MCCCode        string `json:"mcc_code"`

	// Extra holds unknown keys so replays round-trip losslessly.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownTxKeys lists every JSON key consumed by TransactionInput; anything
// else lands in Extra.
var knownTxKeys = map[string]struct{}{
	"tx_id": {}, "sender_id": {}, "receiver_id": {}, "amount": {},
	"timestamp": {}, "device_hash": {}, "device_os": {}, "ip_address": {},
	"sender_lat": {}, "sender_lon": {}, "channel": {}, "credential_type": {},
	"credential_sub_type": {}, "upi_id_sender": {}, "upi_id_receiver": {},
	"currency": {}, "txn_type": {}, "receiver_type": {}, "device_type": {},
	"app_version": {}, "capability_mask": {}, "mcc_code": {},
}

// ParseTransaction decodes a stream payload, keeping unknown keys.
func ParseTransaction(payload []byte) (*TransactionInput, error) {
	type alias TransactionInput
	var a struct {
		alias
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	tx := TransactionInput(a.alias)

	if a.Timestamp != "" {
		ts, err := parseTimestamp(a.Timestamp)
		if err != nil {
			return nil, err
		}
		tx.Timestamp = ts
	} else {
		tx.Timestamp = time.Now().UTC()
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err == nil {
		for k, v := range raw {
			if _, known := knownTxKeys[k]; !known {
				if tx.Extra == nil {
					tx.Extra = make(map[string]json.RawMessage)
				}
				tx.Extra[k] = v
			}
		}
	}
	return &tx, tx.Validate()
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Validate checks record shape and ranges. Failures are poison records.
func (t *TransactionInput) Validate() error {
	switch {
	case strings.TrimSpace(t.TxID) == "":
		return fmt.Errorf("tx_id is required")
	case strings.TrimSpace(t.SenderID) == "":
		return fmt.Errorf("sender_id is required")
	case strings.TrimSpace(t.ReceiverID) == "":
		return fmt.Errorf("receiver_id is required")
	case t.Amount < 0:
		return fmt.Errorf("amount must be non-negative, got %.2f", t.Amount)
	}
	return nil
}

// MarshalJSON emits the canonical stream-record shape, merging Extra back.
func (t *TransactionInput) MarshalJSON() ([]byte, error) {
	type alias TransactionInput
	base, err := json.Marshal(struct {
		*alias
		Timestamp string `json:"timestamp"`
	}{(*alias)(t), t.Timestamp.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range t.Extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}
