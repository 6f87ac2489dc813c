package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultRegistry(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	require.Equal(t, []string{"fantom", "hardhat", "mainnet", "optimism"}, reg.Names())

	optimism, err := reg.Network("optimism")
	require.NoError(t, err)
	require.Equal(t, uint64(10), optimism.ChainID)

	usdc, err := optimism.Token("USDC")
	require.NoError(t, err)
	require.Equal(t, uint8(6), usdc.Decimals)
	require.Equal(t, common.HexToAddress("0x7F5c764cBc14f9669B88837ca1490cCa17c31607"), usdc.Address)

	fantom, err := reg.Network("fantom")
	require.NoError(t, err)
	pool, err := fantom.Pool("bb-yv-USDC")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x3b998ba87b11a1c5bc1770de9793b17a0da61561"), pool.Address)
}

func TestUnknownNetwork(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	_, err = reg.Network("goerli")
	require.ErrorContains(t, err, "unknown network")
}

func TestResolveToken(t *testing.T) {
	reg, err := Default()
	require.NoError(t, err)
	optimism, err := reg.Network("optimism")
	require.NoError(t, err)

	byAddress, known, err := optimism.ResolveToken("0x4200000000000000000000000000000000000006")
	require.NoError(t, err)
	require.True(t, known)
	require.Equal(t, "WETH", byAddress.Symbol)

	unknown, known, err := optimism.ResolveToken("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	require.False(t, known)
	require.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), unknown.Address)

	_, _, err = optimism.ResolveToken("NOPE")
	require.Error(t, err)
}

func TestParseReportsAllViolations(t *testing.T) {
	doc := []byte(`
networks:
  broken:
    chain_id: 5
    tokens:
      AAA: { decimals: 18, address: "0x1111111111111111111111111111111111111111" }
      BBB: { decimals: 18, address: "0x1111111111111111111111111111111111111111" }
      CCC: { decimals: 18, address: "not-an-address" }
      DDD: { symbol: "XXX", decimals: 18, address: "0x2222222222222222222222222222222222222222" }
    pools:
      mismatched:
        id: "0x3b998ba87b11a1c5bc1770de9793b17a0da61561000000000000000000000185"
        address: "0x2222222222222222222222222222222222222222"
`)
	_, err := Parse(doc)
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 4)
	require.ErrorContains(t, err, "already used by AAA")
	require.ErrorContains(t, err, "invalid address")
	require.ErrorContains(t, err, "does not match key")
	require.ErrorContains(t, err, "does not match pool id")
}

func TestParseReportsViolationsInStableOrder(t *testing.T) {
	doc := []byte(`
networks:
  zulu:
    chain_id: 0
  alpha:
    chain_id: 1
    contracts:
      Vault: "bad-vault"
      Authorizer: "bad-authorizer"
    pools:
      second: { id: "0x01" }
      first: { id: "0x02" }
`)
	want := []string{
		`alpha: contract Authorizer: invalid address: "bad-authorizer"`,
		`alpha: contract Vault: invalid address: "bad-vault"`,
		"alpha: pool first",
		"alpha: pool second",
		"zulu: chain_id is required",
	}
	for i := 0; i < 10; i++ {
		_, err := Parse(doc)
		errs := multierr.Errors(err)
		require.Len(t, errs, len(want))
		for j, prefix := range want {
			require.True(t, strings.HasPrefix(errs[j].Error(), prefix), "error %d: %v", j, errs[j])
		}
	}
}

func TestParseAddressChecksum(t *testing.T) {
	_, err := ParseAddress("0x7F5c764cBc14f9669B88837ca1490cCa17c31607")
	require.NoError(t, err)

	_, err = ParseAddress("0x7f5c764cbc14f9669b88837ca1490cca17c31607")
	require.NoError(t, err)

	_, err = ParseAddress("0x7F5c764cBc14f9669B88837ca1490cCa17c31606")
	require.ErrorContains(t, err, "bad checksum")
}
