package model

// DeployedContractRecord is the persisted outcome of a task deployment.
type DeployedContractRecord struct {
	Network      string `json:"network"`
	TaskID       string `json:"task_id"`
	ContractName string `json:"contract_name"`
	Address      string `json:"address"`
	TxHash       string `json:"tx_hash,omitempty"`
	BlockNumber  uint64 `json:"block_number,omitempty"`
	DeployedAt   string `json:"deployed_at"`
}
