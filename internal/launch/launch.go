// Package launch talks to the external token launch service that a
// YesWins resolution spends the pool on.
package launch

import (
	"context"

	"PLPLedger/internal/errs"

	"github.com/mr-tron/base58"
)

// AssetIDLen is the decoded size of a mint address.
const AssetIDLen = 32

// ValidAssetID reports whether id is a base58 mint address.
func ValidAssetID(id string) bool {
	raw, err := base58.Decode(id)
	return err == nil && len(raw) == AssetIDLen
}

// Metadata describes the asset to create.
type Metadata struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`
}

// Purchase is the result of buying into a freshly created asset.
type Purchase struct {
	TokensReceived int64 `json:"tokens_received"`
	Spent          int64 `json:"spent"`
}

// Service is the launch platform collaborator.
type Service interface {
	CreateAsset(ctx context.Context, meta Metadata) (assetID string, err error)
	BuyAsset(ctx context.Context, assetID string, amount int64) (Purchase, error)
}

// Launch creates the asset and spends amount on it. Every failure, including
// a response that makes no sense, surfaces as ExternalServiceFailure.
func Launch(ctx context.Context, svc Service, meta Metadata, amount int64) (string, Purchase, error) {
	assetID, err := svc.CreateAsset(ctx, meta)
	if err != nil {
		return "", Purchase{}, external("create asset", err)
	}
	if !ValidAssetID(assetID) {
		return "", Purchase{}, errs.Newf(errs.KindExternalServiceFailure, "asset_id", "launch service returned malformed asset id %q", assetID)
	}

	p, err := svc.BuyAsset(ctx, assetID, amount)
	if err != nil {
		return "", Purchase{}, external("buy asset", err)
	}
	if p.TokensReceived <= 0 {
		return "", Purchase{}, errs.Newf(errs.KindExternalServiceFailure, "tokens_received", "non-positive token amount %d", p.TokensReceived)
	}
	if p.Spent <= 0 || p.Spent > amount {
		return "", Purchase{}, errs.Newf(errs.KindExternalServiceFailure, "spent", "spent %d outside (0, %d]", p.Spent, amount)
	}
	return assetID, p, nil
}

func external(op string, err error) error {
	if errs.KindOf(err) == errs.KindExternalServiceFailure {
		return err
	}
	return errs.Wrap(errs.KindExternalServiceFailure, op, err)
}
