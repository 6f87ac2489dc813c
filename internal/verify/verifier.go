// Package verify submits contract sources to Etherscan-compatible explorers.
package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 24
)

// Request describes one deployed contract to verify.
type Request struct {
	Address         common.Address
	ContractName    string
	BuildInfo       *BuildInfo
	ConstructorArgs []byte
}

// Verifier runs the submit and poll loop against an explorer.
type Verifier struct {
	etherscan    *EtherscanClient
	pollInterval time.Duration
	maxPolls     int
	logger       *zap.Logger

	numVerified int
	numSkipped  int
	numFailed   int
}

func NewVerifier(apiKey, apiURL string, logger *zap.Logger) (*Verifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("explorer api key is required")
	}
	if apiURL == "" {
		return nil, fmt.Errorf("explorer api url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		etherscan:    NewEtherscanClient(apiKey, apiURL, nil),
		pollInterval: defaultPollInterval,
		maxPolls:     defaultMaxPolls,
		logger:       logger,
	}, nil
}

// Verify submits the source unless the explorer already has it, then waits for
// the outcome.
func (v *Verifier) Verify(ctx context.Context, req Request) error {
	if req.BuildInfo == nil {
		return fmt.Errorf("verify %s: build info is required", req.ContractName)
	}
	name, err := req.BuildInfo.QualifiedName(req.ContractName)
	if err != nil {
		return err
	}

	verified, err := v.etherscan.IsVerified(ctx, req.Address)
	if err != nil {
		return fmt.Errorf("verify %s: %w", req.ContractName, err)
	}
	if verified {
		v.numSkipped++
		v.logger.Info("contract already verified",
			zap.String("contract", req.ContractName),
			zap.String("address", req.Address.Hex()),
		)
		return nil
	}

	guid, err := v.etherscan.SubmitSource(ctx, SourceSubmission{
		Address:         req.Address,
		ContractName:    name,
		CompilerVersion: req.BuildInfo.CompilerVersion(),
		SourceCode:      string(req.BuildInfo.Input),
		ConstructorArgs: hexutil.Encode(req.ConstructorArgs),
	})
	if err != nil {
		v.numFailed++
		return fmt.Errorf("verify %s: %w", req.ContractName, err)
	}
	v.logger.Info("verification submitted",
		zap.String("contract", name),
		zap.String("address", req.Address.Hex()),
		zap.String("guid", guid),
	)

	if err := v.await(ctx, guid); err != nil {
		v.numFailed++
		return fmt.Errorf("verify %s: %w", req.ContractName, err)
	}
	v.numVerified++
	v.logger.Info("contract verified",
		zap.String("contract", name),
		zap.String("address", req.Address.Hex()),
	)
	return nil
}

func (v *Verifier) await(ctx context.Context, guid string) error {
	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()

	for i := 0; i < v.maxPolls; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err := v.etherscan.CheckStatus(ctx, guid)
		if err != nil {
			return err
		}
		switch {
		case status.Status == "1", strings.Contains(status.Result, "Already Verified"):
			return nil
		case strings.Contains(status.Result, "Pending"):
			v.logger.Debug("verification pending", zap.String("guid", guid))
		default:
			return fmt.Errorf("explorer rejected source: %s", status.Result)
		}
	}
	return fmt.Errorf("verification %s still pending after %d polls", guid, v.maxPolls)
}

// Stats returns how many requests were verified, skipped as already verified, or failed.
func (v *Verifier) Stats() (verified, skipped, failed int) {
	return v.numVerified, v.numSkipped, v.numFailed
}
