package ops

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolctl/internal/chain"
	"poolctl/internal/model"
)

func buildTxRecord(chainID uint64, script string, iteration int, step string, from common.Address, call chain.Call, receipt *types.Receipt, submittedAt time.Time) model.TxRecord {
	var to string
	switch {
	case call.To != nil:
		to = call.To.Hex()
	case receipt.ContractAddress != (common.Address{}):
		to = receipt.ContractAddress.Hex()
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}

	return model.TxRecord{
		ChainID:     chainID,
		Script:      script,
		Iteration:   iteration,
		Step:        step,
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: block,
		GasUsed:     receipt.GasUsed,
		Status:      receipt.Status,
		From:        from.Hex(),
		To:          to,
		SubmittedAt: submittedAt.UTC().Format(time.RFC3339Nano),
	}
}
