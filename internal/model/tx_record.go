package model

// TxRecord is a journal entry for one mined transaction submitted by a script.
type TxRecord struct {
	ChainID     uint64 `json:"chain_id"`
	Script      string `json:"script"`
	Iteration   int    `json:"iteration"`
	Step        string `json:"step"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	Status      uint64 `json:"status"`
	From        string `json:"from"`
	To          string `json:"to"`
	SubmittedAt string `json:"submitted_at"`
}

// Succeeded reports whether the transaction was mined with a success status.
func (r TxRecord) Succeeded() bool {
	return r.Status == 1
}
