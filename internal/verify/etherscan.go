package verify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// EtherscanGenericResp is the envelope every Etherscan-compatible endpoint returns.
type EtherscanGenericResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// SourceSubmission is a standard-json-input verification request.
type SourceSubmission struct {
	Address         common.Address
	ContractName    string
	CompilerVersion string
	SourceCode      string
	ConstructorArgs string
}

// EtherscanClient talks to one explorer API endpoint.
type EtherscanClient struct {
	apiKey  string
	url     string
	http    *resty.Client
	limiter *rate.Limiter
}

// NewEtherscanClient builds a client. A nil limiter allows five requests a second,
// the free tier limit.
func NewEtherscanClient(apiKey, url string, limiter *rate.Limiter) *EtherscanClient {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(5), 1)
	}
	return &EtherscanClient{
		apiKey:  apiKey,
		url:     url,
		http:    resty.New().SetTimeout(30 * time.Second),
		limiter: limiter,
	}
}

// IsVerified reports whether the explorer already has source for the address.
func (c *EtherscanClient) IsVerified(ctx context.Context, addr common.Address) (bool, error) {
	resp, err := c.get(ctx, map[string]string{
		"module":  "contract",
		"action":  "getabi",
		"address": addr.Hex(),
	})
	if err != nil {
		return false, err
	}
	return resp.Status == "1", nil
}

// SubmitSource posts a verification request and returns the explorer's guid.
func (c *EtherscanClient) SubmitSource(ctx context.Context, sub SourceSubmission) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var out EtherscanGenericResp
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("apikey", c.apiKey).
		SetFormData(map[string]string{
			"module":          "contract",
			"action":          "verifysourcecode",
			"contractaddress": sub.Address.Hex(),
			"sourceCode":      sub.SourceCode,
			"codeformat":      "solidity-standard-json-input",
			"contractname":    sub.ContractName,
			"compilerversion": sub.CompilerVersion,
			// Misspelled in the explorer API.
			"constructorArguements": strings.TrimPrefix(sub.ConstructorArgs, "0x"),
		}).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return "", fmt.Errorf("verifysourcecode: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("verifysourcecode: http %d", resp.StatusCode())
	}
	if out.Status != "1" {
		return "", fmt.Errorf("verifysourcecode: %s: %s", out.Message, out.Result)
	}
	return out.Result, nil
}

// CheckStatus polls the state of a submission.
func (c *EtherscanClient) CheckStatus(ctx context.Context, guid string) (EtherscanGenericResp, error) {
	return c.get(ctx, map[string]string{
		"module": "contract",
		"action": "checkverifystatus",
		"guid":   guid,
	})
}

func (c *EtherscanClient) get(ctx context.Context, params map[string]string) (EtherscanGenericResp, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return EtherscanGenericResp{}, err
	}

	var out EtherscanGenericResp
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("apikey", c.apiKey).
		SetResult(&out).
		Get(c.url)
	if err != nil {
		return EtherscanGenericResp{}, fmt.Errorf("%s: %w", params["action"], err)
	}
	if resp.IsError() {
		return EtherscanGenericResp{}, fmt.Errorf("%s: http %d", params["action"], resp.StatusCode())
	}
	return out, nil
}
