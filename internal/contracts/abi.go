package contracts

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const vaultABIJSON = `[
  {"name": "swap", "type": "function", "stateMutability": "payable",
   "inputs": [
     {"name": "singleSwap", "type": "tuple", "components": [
       {"name": "poolId", "type": "bytes32"},
       {"name": "kind", "type": "uint8"},
       {"name": "assetIn", "type": "address"},
       {"name": "assetOut", "type": "address"},
       {"name": "amount", "type": "uint256"},
       {"name": "userData", "type": "bytes"}]},
     {"name": "funds", "type": "tuple", "components": [
       {"name": "sender", "type": "address"},
       {"name": "fromInternalBalance", "type": "bool"},
       {"name": "recipient", "type": "address"},
       {"name": "toInternalBalance", "type": "bool"}]},
     {"name": "limit", "type": "uint256"},
     {"name": "deadline", "type": "uint256"}],
   "outputs": [{"name": "amountCalculated", "type": "uint256"}]},
  {"name": "joinPool", "type": "function", "stateMutability": "payable",
   "inputs": [
     {"name": "poolId", "type": "bytes32"},
     {"name": "sender", "type": "address"},
     {"name": "recipient", "type": "address"},
     {"name": "request", "type": "tuple", "components": [
       {"name": "assets", "type": "address[]"},
       {"name": "maxAmountsIn", "type": "uint256[]"},
       {"name": "userData", "type": "bytes"},
       {"name": "fromInternalBalance", "type": "bool"}]}],
   "outputs": []},
  {"name": "getPool", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "poolId", "type": "bytes32"}],
   "outputs": [{"name": "", "type": "address"}, {"name": "", "type": "uint8"}]},
  {"name": "getPoolTokens", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "poolId", "type": "bytes32"}],
   "outputs": [{"name": "tokens", "type": "address[]"}, {"name": "balances", "type": "uint256[]"}, {"name": "lastChangeBlock", "type": "uint256"}]},
  {"name": "getPoolTokenInfo", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "poolId", "type": "bytes32"}, {"name": "token", "type": "address"}],
   "outputs": [{"name": "cash", "type": "uint256"}, {"name": "managed", "type": "uint256"}, {"name": "lastChangeBlock", "type": "uint256"}, {"name": "assetManager", "type": "address"}]},
  {"name": "setRelayerApproval", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "sender", "type": "address"}, {"name": "relayer", "type": "address"}, {"name": "approved", "type": "bool"}],
   "outputs": []},
  {"name": "getAuthorizer", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
  {"name": "getProtocolFeesCollector", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]}
]`

const weightedPoolFactoryABIJSON = `[
  {"name": "create", "type": "function", "stateMutability": "nonpayable",
   "inputs": [
     {"name": "name", "type": "string"},
     {"name": "symbol", "type": "string"},
     {"name": "tokens", "type": "address[]"},
     {"name": "normalizedWeights", "type": "uint256[]"},
     {"name": "rateProviders", "type": "address[]"},
     {"name": "swapFeePercentage", "type": "uint256"},
     {"name": "owner", "type": "address"},
     {"name": "salt", "type": "bytes32"}],
   "outputs": [{"name": "", "type": "address"}]},
  {"name": "isPoolFromFactory", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "pool", "type": "address"}], "outputs": [{"name": "", "type": "bool"}]},
  {"name": "getProtocolFeePercentagesProvider", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
  {"name": "getPoolVersion", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "string"}]},
  {"name": "getPauseConfiguration", "type": "function", "stateMutability": "view", "inputs": [],
   "outputs": [{"name": "pauseWindowDuration", "type": "uint256"}, {"name": "bufferPeriodDuration", "type": "uint256"}]},
  {"anonymous": false, "name": "PoolCreated", "type": "event",
   "inputs": [{"indexed": true, "name": "pool", "type": "address"}]}
]`

const stablePoolFactoryABIJSON = `[
  {"name": "create", "type": "function", "stateMutability": "nonpayable",
   "inputs": [
     {"name": "name", "type": "string"},
     {"name": "symbol", "type": "string"},
     {"name": "tokens", "type": "address[]"},
     {"name": "amplificationParameter", "type": "uint256"},
     {"name": "swapFeePercentage", "type": "uint256"},
     {"name": "owner", "type": "address"}],
   "outputs": [{"name": "", "type": "address"}]},
  {"name": "isPoolFromFactory", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "pool", "type": "address"}], "outputs": [{"name": "", "type": "bool"}]},
  {"name": "getPauseConfiguration", "type": "function", "stateMutability": "view", "inputs": [],
   "outputs": [{"name": "pauseWindowDuration", "type": "uint256"}, {"name": "bufferPeriodDuration", "type": "uint256"}]},
  {"anonymous": false, "name": "PoolCreated", "type": "event",
   "inputs": [{"indexed": true, "name": "pool", "type": "address"}]}
]`

// Constructors of the pools the factories deploy, for explorer verification.
const weightedPoolABIJSON = `[
  {"type": "constructor", "stateMutability": "nonpayable",
   "inputs": [
     {"name": "params", "type": "tuple", "components": [
       {"name": "name", "type": "string"},
       {"name": "symbol", "type": "string"},
       {"name": "tokens", "type": "address[]"},
       {"name": "normalizedWeights", "type": "uint256[]"},
       {"name": "rateProviders", "type": "address[]"},
       {"name": "assetManagers", "type": "address[]"},
       {"name": "swapFeePercentage", "type": "uint256"}]},
     {"name": "vault", "type": "address"},
     {"name": "protocolFeeProvider", "type": "address"},
     {"name": "pauseWindowDuration", "type": "uint256"},
     {"name": "bufferPeriodDuration", "type": "uint256"},
     {"name": "owner", "type": "address"},
     {"name": "version", "type": "string"}]}
]`

const stablePoolABIJSON = `[
  {"type": "constructor", "stateMutability": "nonpayable",
   "inputs": [
     {"name": "vault", "type": "address"},
     {"name": "name", "type": "string"},
     {"name": "symbol", "type": "string"},
     {"name": "tokens", "type": "address[]"},
     {"name": "amplificationParameter", "type": "uint256"},
     {"name": "swapFeePercentage", "type": "uint256"},
     {"name": "pauseWindowDuration", "type": "uint256"},
     {"name": "bufferPeriodDuration", "type": "uint256"},
     {"name": "owner", "type": "address"}]}
]`

const basePoolABIJSON = `[
  {"name": "getPoolId", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "bytes32"}]},
  {"name": "balanceOf", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "account", "type": "address"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "getProtocolFeePercentageCache", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "feeType", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "updateProtocolFeePercentageCache", "type": "function", "stateMutability": "nonpayable", "inputs": [], "outputs": []},
  {"name": "inRecoveryMode", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "bool"}]},
  {"anonymous": false, "name": "ProtocolFeePercentageCacheUpdated", "type": "event",
   "inputs": [{"indexed": false, "name": "feeCache", "type": "bytes32"}]}
]`

const protocolFeeProviderABIJSON = `[
  {"name": "setFeeTypePercentage", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "feeType", "type": "uint256"}, {"name": "newValue", "type": "uint256"}], "outputs": []},
  {"name": "getFeeTypePercentage", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "feeType", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "getFeeTypeMaximumPercentage", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "feeType", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "setFeeTypePercentageForPool", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "pool", "type": "address"}, {"name": "feeType", "type": "uint256"}, {"name": "newValue", "type": "uint256"}], "outputs": []},
  {"name": "removeFeeTypePercentageForPool", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "pool", "type": "address"}, {"name": "feeType", "type": "uint256"}], "outputs": []},
  {"anonymous": false, "name": "ProtocolFeePercentageChanged", "type": "event",
   "inputs": [{"indexed": true, "name": "feeType", "type": "uint256"}, {"indexed": false, "name": "percentage", "type": "uint256"}]}
]`

const batchRelayerLibraryABIJSON = `[
  {"name": "getEntrypoint", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
  {"name": "reliquaryCreateRelicAndDeposit", "type": "function", "stateMutability": "payable",
   "inputs": [
     {"name": "sender", "type": "address"},
     {"name": "recipient", "type": "address"},
     {"name": "token", "type": "address"},
     {"name": "poolId", "type": "uint256"},
     {"name": "amount", "type": "uint256"},
     {"name": "outputReference", "type": "uint256"}],
   "outputs": []},
  {"name": "reliquaryDeposit", "type": "function", "stateMutability": "payable",
   "inputs": [
     {"name": "sender", "type": "address"},
     {"name": "token", "type": "address"},
     {"name": "relicId", "type": "uint256"},
     {"name": "amount", "type": "uint256"},
     {"name": "outputReference", "type": "uint256"}],
   "outputs": []},
  {"name": "reliquaryWithdrawAndHarvest", "type": "function", "stateMutability": "payable",
   "inputs": [
     {"name": "recipient", "type": "address"},
     {"name": "relicId", "type": "uint256"},
     {"name": "amount", "type": "uint256"},
     {"name": "outputReference", "type": "uint256"}],
   "outputs": []},
  {"name": "reliquaryHarvestAll", "type": "function", "stateMutability": "payable",
   "inputs": [{"name": "relicIds", "type": "uint256[]"}, {"name": "recipient", "type": "address"}],
   "outputs": []},
  {"name": "setChainedReferenceValue", "type": "function", "stateMutability": "payable",
   "inputs": [{"name": "ref", "type": "uint256"}, {"name": "value", "type": "uint256"}],
   "outputs": []},
  {"name": "getChainedReferenceValue", "type": "function", "stateMutability": "payable",
   "inputs": [{"name": "ref", "type": "uint256"}],
   "outputs": [{"name": "value", "type": "uint256"}]},
  {"anonymous": false, "name": "ChainedReferenceValueRead", "type": "event",
   "inputs": [{"indexed": false, "name": "value", "type": "uint256"}]}
]`

const relayerABIJSON = `[
  {"name": "multicall", "type": "function", "stateMutability": "payable",
   "inputs": [{"name": "data", "type": "bytes[]"}], "outputs": [{"name": "results", "type": "bytes[]"}]},
  {"name": "getLibrary", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]},
  {"name": "getVault", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]}
]`

const reliquaryABIJSON = `[
  {"name": "addPool", "type": "function", "stateMutability": "nonpayable",
   "inputs": [
     {"name": "allocPoint", "type": "uint256"},
     {"name": "poolToken", "type": "address"},
     {"name": "rewarder", "type": "address"},
     {"name": "requiredMaturities", "type": "uint256[]"},
     {"name": "levelMultipliers", "type": "uint256[]"},
     {"name": "name", "type": "string"},
     {"name": "nftDescriptor", "type": "address"}],
   "outputs": []},
  {"name": "poolLength", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "createRelicAndDeposit", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "to", "type": "address"}, {"name": "pid", "type": "uint256"}, {"name": "amount", "type": "uint256"}],
   "outputs": [{"name": "id", "type": "uint256"}]},
  {"name": "deposit", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "amount", "type": "uint256"}, {"name": "relicId", "type": "uint256"}], "outputs": []},
  {"name": "withdrawAndHarvest", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "amount", "type": "uint256"}, {"name": "relicId", "type": "uint256"}, {"name": "harvestTo", "type": "address"}], "outputs": []},
  {"name": "pendingReward", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "relicId", "type": "uint256"}], "outputs": [{"name": "pending", "type": "uint256"}]},
  {"name": "getPositionForId", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "relicId", "type": "uint256"}],
   "outputs": [{"name": "position", "type": "tuple", "components": [
     {"name": "amount", "type": "uint256"},
     {"name": "rewardDebt", "type": "uint256"},
     {"name": "rewardCredit", "type": "uint256"},
     {"name": "entry", "type": "uint256"},
     {"name": "poolId", "type": "uint256"},
     {"name": "level", "type": "uint256"}]}]},
  {"name": "balanceOf", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "owner", "type": "address"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "tokenOfOwnerByIndex", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "owner", "type": "address"}, {"name": "index", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "ownerOf", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "tokenId", "type": "uint256"}], "outputs": [{"name": "", "type": "address"}]},
  {"name": "approve", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "to", "type": "address"}, {"name": "tokenId", "type": "uint256"}], "outputs": []},
  {"anonymous": false, "name": "CreateRelic", "type": "event",
   "inputs": [
     {"indexed": true, "name": "pid", "type": "uint256"},
     {"indexed": true, "name": "to", "type": "address"},
     {"indexed": true, "name": "relicId", "type": "uint256"}]}
]`

const yearnVaultABIJSON = `[
  {"name": "balanceOf", "type": "function", "stateMutability": "view",
   "inputs": [{"name": "account", "type": "address"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "withdraw", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "maxShares", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "token", "type": "function", "stateMutability": "view", "inputs": [], "outputs": [{"name": "", "type": "address"}]}
]`

const linearRebalancerABIJSON = `[
  {"name": "rebalance", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "recipient", "type": "address"}], "outputs": [{"name": "", "type": "uint256"}]},
  {"name": "rebalanceWithExtraMain", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "recipient", "type": "address"}, {"name": "extraMain", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]}
]`

const manualRebalancerABIJSON = `[
  {"name": "wrap", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "poolId", "type": "bytes32"}, {"name": "amount", "type": "uint256"}, {"name": "limit", "type": "uint256"}], "outputs": []},
  {"name": "unwrap", "type": "function", "stateMutability": "nonpayable",
   "inputs": [{"name": "poolId", "type": "bytes32"}, {"name": "amount", "type": "uint256"}, {"name": "limit", "type": "uint256"}], "outputs": []}
]`

type lazyABI struct {
	json   string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.json))
	})
	return l.parsed, l.err
}

var (
	vaultABI               = &lazyABI{json: vaultABIJSON}
	weightedPoolFactoryABI = &lazyABI{json: weightedPoolFactoryABIJSON}
	stablePoolFactoryABI   = &lazyABI{json: stablePoolFactoryABIJSON}
	weightedPoolABI        = &lazyABI{json: weightedPoolABIJSON}
	stablePoolABI          = &lazyABI{json: stablePoolABIJSON}
	basePoolABI            = &lazyABI{json: basePoolABIJSON}
	protocolFeeProviderABI = &lazyABI{json: protocolFeeProviderABIJSON}
	batchRelayerLibABI     = &lazyABI{json: batchRelayerLibraryABIJSON}
	relayerABI             = &lazyABI{json: relayerABIJSON}
	reliquaryABI           = &lazyABI{json: reliquaryABIJSON}
	yearnVaultABI          = &lazyABI{json: yearnVaultABIJSON}
	linearRebalancerABI    = &lazyABI{json: linearRebalancerABIJSON}
	manualRebalancerABI    = &lazyABI{json: manualRebalancerABIJSON}
)

// VaultABI returns the parsed Vault ABI.
func VaultABI() (abi.ABI, error) { return vaultABI.get() }

// WeightedPoolFactoryABI returns the parsed weighted pool factory ABI.
func WeightedPoolFactoryABI() (abi.ABI, error) { return weightedPoolFactoryABI.get() }

// StablePoolFactoryABI returns the parsed stable pool factory ABI.
func StablePoolFactoryABI() (abi.ABI, error) { return stablePoolFactoryABI.get() }

// WeightedPoolABI returns the weighted pool constructor.
func WeightedPoolABI() (abi.ABI, error) { return weightedPoolABI.get() }

// StablePoolABI returns the stable pool constructor.
func StablePoolABI() (abi.ABI, error) { return stablePoolABI.get() }

// WeightedPoolParams is the NewPoolParams tuple a weighted pool is constructed with.
type WeightedPoolParams struct {
	Name              string
	Symbol            string
	Tokens            []common.Address
	NormalizedWeights []*big.Int
	RateProviders     []common.Address
	AssetManagers     []common.Address
	SwapFeePercentage *big.Int
}

// BasePoolABI returns the parsed ABI shared by pools (id, BPT balance, fee cache).
func BasePoolABI() (abi.ABI, error) { return basePoolABI.get() }

// ProtocolFeeProviderABI returns the parsed protocol fee percentages provider ABI.
func ProtocolFeeProviderABI() (abi.ABI, error) { return protocolFeeProviderABI.get() }

// BatchRelayerLibraryABI returns the parsed batch relayer library ABI.
func BatchRelayerLibraryABI() (abi.ABI, error) { return batchRelayerLibABI.get() }

// RelayerABI returns the parsed relayer entrypoint ABI.
func RelayerABI() (abi.ABI, error) { return relayerABI.get() }

// ReliquaryABI returns the parsed Reliquary ABI.
func ReliquaryABI() (abi.ABI, error) { return reliquaryABI.get() }

// YearnVaultABI returns the parsed Yearn vault ABI.
func YearnVaultABI() (abi.ABI, error) { return yearnVaultABI.get() }

// LinearRebalancerABI returns the parsed linear pool rebalancer ABI.
func LinearRebalancerABI() (abi.ABI, error) { return linearRebalancerABI.get() }

// ManualRebalancerABI returns the parsed manual (wrap/unwrap) rebalancer ABI.
func ManualRebalancerABI() (abi.ABI, error) { return manualRebalancerABI.get() }

// Must panics when an ABI fails to parse. Intended for tests and mocks.
func Must(parsed abi.ABI, err error) abi.ABI {
	if err != nil {
		panic(err)
	}
	return parsed
}
