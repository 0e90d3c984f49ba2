package multisend

// Amounts travel as decimal strings; hex with a 0x prefix is accepted on
// input.

// NativeBatchRequest submits a native value batch. Value is the amount the
// caller attaches; it must cover the sum of Amounts.
type NativeBatchRequest struct {
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
	Value      string   `json:"value"`
}

// AssetBatchRequest submits a token batch drawn from the caller's allowance.
type AssetBatchRequest struct {
	Asset      string   `json:"asset"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
}

// Outcome is the per-recipient result of a batch.
type Outcome struct {
	Index     int    `json:"index"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Receipt describes an accepted batch.
type Receipt struct {
	ID                    string    `json:"id"`
	Mode                  string    `json:"mode"`
	Sender                string    `json:"sender"`
	Asset                 string    `json:"asset,omitempty"`
	DeclaredTotal         string    `json:"declared_total"`
	DeliveredTotal        string    `json:"delivered_total"`
	Value                 string    `json:"value,omitempty"`
	Refund                string    `json:"refund,omitempty"`
	RefundFailed          bool      `json:"refund_failed,omitempty"`
	Successes             uint64    `json:"successes"`
	Failures              uint64    `json:"failures"`
	Outcomes              []Outcome `json:"outcomes"`
	TotalBatches          string    `json:"total_batches,omitempty"`
	TotalRecipientsServed string    `json:"total_recipients_served,omitempty"`
	SenderBatches         string    `json:"sender_batches,omitempty"`
	Timestamp             int64     `json:"timestamp"`
}

// ReceiptList is returned by the per-sender history endpoint.
type ReceiptList struct {
	Receipts []Receipt `json:"receipts"`
}

// Stats carries the aggregate counters.
type Stats struct {
	TotalBatches          string `json:"total_batches"`
	TotalRecipientsServed string `json:"total_recipients_served"`
}

// SenderStats carries the batch count of one sender.
type SenderStats struct {
	Address string `json:"address"`
	Batches string `json:"batches"`
}

// Estimate is the advisory cost of a batch.
type Estimate struct {
	Mode       string `json:"mode"`
	Recipients uint64 `json:"recipients"`
	Gas        string `json:"gas"`
}

// EngineInfo describes ownership and configuration of the engine.
type EngineInfo struct {
	Owner         string `json:"owner"`
	Renounced     bool   `json:"renounced"`
	Paused        bool   `json:"paused"`
	Vault         string `json:"vault"`
	VaultBalance  string `json:"vault_balance"`
	ErrorPolicy   string `json:"error_policy"`
	RefundBasis   string `json:"refund_basis"`
	MaxRecipients int    `json:"max_recipients"`
}

// DepositRequest sends value to the engine vault.
type DepositRequest struct {
	Amount string `json:"amount"`
}

// OwnershipRequest hands ownership to NewOwner.
type OwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// DrainResult reports the amount moved to the owner.
type DrainResult struct {
	Amount string `json:"amount"`
}

// Event is a canonical engine event as streamed on /v1/events.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	// Receipt is set when a batch executed but could not be fully recorded.
	Receipt *Receipt `json:"receipt,omitempty"`
}
