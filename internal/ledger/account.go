package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeVault
	AccountScopeProtocol
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota
	SubTypeRewardInbox
	SubTypeLockEscrow
	SubTypeCollateralEscrow

	// Vault sub-types
	SubTypeVaultLiquidity
	SubTypeVaultRewardEscrow

	// Protocol sub-types
	SubTypeProtocolFees

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalRewards
	SubTypeExternalShareMint
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetUSDC        AssetID = 1
	AssetUSDT        AssetID = 2
	AssetDAI         AssetID = 3
	AssetVaultShares AssetID = 10
)

var (
	assetToID = map[string]AssetID{
		"USDC":   AssetUSDC,
		"USDT":   AssetUSDT,
		"DAI":    AssetDAI,
		"lvUSDC": AssetVaultShares,
	}
	idToAsset = map[AssetID]string{
		AssetUSDC:        "USDC",
		AssetUSDT:        "USDT",
		AssetDAI:         "DAI",
		AssetVaultShares: "lvUSDC",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // account/lender UUID for user scope, zero otherwise
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key owned by an account or lender
func NewUserAccountKey(owner uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: owner,
		SubType:  subType,
		AssetID:  assetID,
	}
}

func WalletKey(owner uuid.UUID, assetID AssetID) AccountKey {
	return NewUserAccountKey(owner, SubTypeWallet, assetID)
}

func RewardInboxKey(owner uuid.UUID, assetID AssetID) AccountKey {
	return NewUserAccountKey(owner, SubTypeRewardInbox, assetID)
}

func LockEscrowKey(owner uuid.UUID, assetID AssetID) AccountKey {
	return NewUserAccountKey(owner, SubTypeLockEscrow, assetID)
}

// CollateralEscrowKey holds the vault shares an account has pledged
func CollateralEscrowKey(owner uuid.UUID) AccountKey {
	return NewUserAccountKey(owner, SubTypeCollateralEscrow, AssetVaultShares)
}

func VaultLiquidityKey(assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeVault, SubType: SubTypeVaultLiquidity, AssetID: assetID}
}

func VaultRewardEscrowKey(assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeVault, SubType: SubTypeVaultRewardEscrow, AssetID: assetID}
}

func ProtocolFeesKey(assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeProtocol, SubType: SubTypeProtocolFees, AssetID: assetID}
}

// NewExternalAccountKey creates a key for external boundary accounts. Only
// external accounts may carry a negative balance.
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

func ShareMintKey() AccountKey {
	return NewExternalAccountKey(SubTypeExternalShareMint, AssetVaultShares)
}

func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// Owner returns the owning account for user-scope keys
func (k AccountKey) Owner() (uuid.UUID, bool) {
	if k.Scope != AccountScopeUser {
		return uuid.Nil, false
	}
	return uuid.UUID(k.EntityID), true
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeVault:
		return fmt.Sprintf("vault:%s:%s", k.subTypeName(), assetName)
	case AccountScopeProtocol:
		return fmt.Sprintf("protocol:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) String() string {
	return k.AccountPath()
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeRewardInbox:
		return "reward_inbox"
	case SubTypeLockEscrow:
		return "lock_escrow"
	case SubTypeCollateralEscrow:
		return "collateral_escrow"
	case SubTypeVaultLiquidity:
		return "liquidity"
	case SubTypeVaultRewardEscrow:
		return "reward_escrow"
	case SubTypeProtocolFees:
		return "fees"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeExternalRewards:
		return "rewards"
	case SubTypeExternalShareMint:
		return "share_mint"
	default:
		return "unknown"
	}
}
