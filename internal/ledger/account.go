package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
	AccountScopeMarket
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota // Mirror of the participant's own funds; negative = net contributed
	SubTypeTokens                       // Launched tokens received, per market

	// Market sub-types
	SubTypeVault      // Escrowed lamports; always equals Market.PoolBalance
	SubTypeTokenVault // Launched tokens awaiting claim

	// System sub-types
	SubTypeSystemTreasury
	SubTypeSystemPlatformTokens

	// External sub-types
	SubTypeExternalLaunch
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetSOL   AssetID = 1
	AssetToken AssetID = 2 // Launched token; the market in the key tells which one
)

var (
	assetToID = map[string]AssetID{
		"SOL":   AssetSOL,
		"TOKEN": AssetToken,
	}
	idToAsset = map[AssetID]string{
		AssetSOL:   "SOL",
		AssetToken: "TOKEN",
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

// AccountKey is the in-memory key for balance tracking. Market is zero for
// accounts not bound to a market.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users and markets, name for system accounts
	Market   [16]byte
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewUserMarketAccountKey creates a user account bound to one market
// (token holdings differ per market).
func NewUserMarketAccountKey(userID, marketID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	key := NewUserAccountKey(userID, subType, assetID)
	key.Market = marketID
	return key
}

// NewMarketAccountKey creates a key for a market's custody accounts
func NewMarketAccountKey(marketID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeMarket,
		EntityID: marketID,
		Market:   marketID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts. marketID is
// uuid.Nil for accounts not bound to a market.
func NewSystemAccountKey(name string, marketID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		Market:   marketID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(marketID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		Market:  marketID,
		SubType: subType,
		AssetID: assetID,
	}
}

// Well-known accounts

func TreasuryAccount() AccountKey {
	return NewSystemAccountKey("treasury", uuid.Nil, SubTypeSystemTreasury, AssetSOL)
}

func PlatformTokenAccount(marketID uuid.UUID) AccountKey {
	return NewSystemAccountKey("platform", marketID, SubTypeSystemPlatformTokens, AssetToken)
}

func VaultAccount(marketID uuid.UUID) AccountKey {
	return NewMarketAccountKey(marketID, SubTypeVault, AssetSOL)
}

func TokenVaultAccount(marketID uuid.UUID) AccountKey {
	return NewMarketAccountKey(marketID, SubTypeTokenVault, AssetToken)
}

func WalletAccount(userID uuid.UUID) AccountKey {
	return NewUserAccountKey(userID, SubTypeWallet, AssetSOL)
}

func UserTokenAccount(userID, marketID uuid.UUID) AccountKey {
	return NewUserMarketAccountKey(userID, marketID, SubTypeTokens, AssetToken)
}

func LaunchAccount(marketID uuid.UUID, assetID AssetID) AccountKey {
	return NewExternalAccountKey(marketID, SubTypeExternalLaunch, assetID)
}

// MarketID returns the market the account is bound to, or uuid.Nil.
func (k AccountKey) MarketID() uuid.UUID {
	return uuid.UUID(k.Market)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)
	market := uuid.UUID(k.Market)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		if market != uuid.Nil {
			return fmt.Sprintf("user:%s:%s:%s:%s", uid.String(), k.subTypeName(), market.String(), assetName)
		}
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeMarket:
		return fmt.Sprintf("market:%s:%s:%s", market.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		if market != uuid.Nil {
			return fmt.Sprintf("system:%s:%s:%s", k.subTypeName(), market.String(), assetName)
		}
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		if market != uuid.Nil {
			return fmt.Sprintf("external:%s:%s:%s", k.subTypeName(), market.String(), assetName)
		}
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeTokens:
		return "tokens"
	case SubTypeVault:
		return "vault"
	case SubTypeTokenVault:
		return "token_vault"
	case SubTypeSystemTreasury:
		return "treasury"
	case SubTypeSystemPlatformTokens:
		return "platform_tokens"
	case SubTypeExternalLaunch:
		return "launch"
	default:
		return "unknown"
	}
}
