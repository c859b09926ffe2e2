package vault

import (
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"

	"github.com/google/uuid"
)

// ConvertToShares returns the shares minted for assets, rounded down.
// An empty vault mints 1:1.
func (v *Vault) ConvertToShares(assets int64) int64 {
	p := v.pool.Get()
	if p.TotalSupply == 0 || p.TotalAssets() == 0 {
		return assets
	}
	return fpmath.MustMulDiv(assets, p.TotalSupply, p.TotalAssets(), fpmath.RoundDown)
}

// PreviewDeposit is ConvertToShares with the overflow reported.
func (v *Vault) PreviewDeposit(assets int64) (int64, error) {
	p := v.pool.Get()
	if p.TotalSupply == 0 || p.TotalAssets() == 0 {
		return assets, nil
	}
	return fpmath.MulDiv(assets, p.TotalSupply, p.TotalAssets(), fpmath.RoundDown)
}

// ConvertToAssets returns the assets backing shares, rounded down.
func (v *Vault) ConvertToAssets(shares int64) int64 {
	p := v.pool.Get()
	if p.TotalSupply == 0 {
		return shares
	}
	return fpmath.MustMulDiv(shares, p.TotalAssets(), p.TotalSupply, fpmath.RoundDown)
}

// PreviewWithdraw returns the shares burned to withdraw assets, rounded up.
func (v *Vault) PreviewWithdraw(assets int64) int64 {
	p := v.pool.Get()
	if p.TotalSupply == 0 || p.TotalAssets() == 0 {
		return assets
	}
	return fpmath.MustMulDiv(assets, p.TotalSupply, p.TotalAssets(), fpmath.RoundUp)
}

// PreviewRedeem returns the assets paid for redeeming shares.
func (v *Vault) PreviewRedeem(shares int64) int64 {
	return v.ConvertToAssets(shares)
}

// ShareBalance returns the shares held by key.
func (v *Vault) ShareBalance(key ledger.AccountKey) int64 {
	return v.token.BalanceOf(key)
}

// MaxWithdraw is the most a holder can withdraw right now, bounded by liquidity.
func (v *Vault) MaxWithdraw(holder ledger.AccountKey) int64 {
	return fpmath.Min(v.ConvertToAssets(v.ShareBalance(holder)), v.LiquidAssets())
}

// ShareKey is the share balance of a lender's wallet.
func ShareKey(owner uuid.UUID) ledger.AccountKey {
	return ledger.WalletKey(owner, ledger.AssetVaultShares)
}

// Deposit pulls assets from payer and mints shares to receiver.
func (v *Vault) Deposit(payer, receiver ledger.AccountKey, assets int64) (int64, error) {
	var shares int64
	err := v.whenNotPaused(func() error {
		if assets <= 0 {
			return ErrZeroAmount
		}
		if receiver.AssetID != ledger.AssetVaultShares {
			return fmt.Errorf("vault: receiver %s does not hold shares", receiver.AccountPath())
		}
		p := v.pool.Get()
		if _, err := fpmath.AddChecked(p.TotalAssets(), assets); err != nil {
			return fmt.Errorf("total assets: %w", err)
		}
		var err error
		if shares, err = v.PreviewDeposit(assets); err != nil {
			return fmt.Errorf("shares for %d assets: %w", assets, err)
		}
		if shares <= 0 {
			return ErrZeroShares
		}

		p.LiquidAssets += assets
		if p.TotalSupply, err = fpmath.AddChecked(p.TotalSupply, shares); err != nil {
			return fmt.Errorf("share supply: %w", err)
		}
		v.pool.Set(p)
		if err := v.checkpointPool(); err != nil {
			return err
		}

		if err := v.token.Transfer(payer, v.liquidityKey(), assets, ledger.JournalTypeVaultDeposit); err != nil {
			return err
		}
		if err := v.token.Transfer(ledger.ShareMintKey(), receiver, shares, ledger.JournalTypeShareMint); err != nil {
			return err
		}

		owner, _ := receiver.Owner()
		v.recorder.Record(event.AuditRecord{
			Kind:     event.AuditVaultDeposit,
			Account:  owner,
			Epoch:    v.CurrentEpoch(),
			Amount:   assets,
			Quantity: shares,
		})
		return nil
	})
	return shares, err
}

// Withdraw burns the shares needed to pay out exactly assets.
func (v *Vault) Withdraw(holder, receiver ledger.AccountKey, assets int64) (int64, error) {
	var shares int64
	err := v.whenNotPaused(func() error {
		if assets <= 0 {
			return ErrZeroAmount
		}
		shares = v.PreviewWithdraw(assets)
		return v.exit(holder, receiver, shares, assets)
	})
	return shares, err
}

// Redeem burns shares and pays out their asset value.
func (v *Vault) Redeem(holder, receiver ledger.AccountKey, shares int64) (int64, error) {
	var assets int64
	err := v.whenNotPaused(func() error {
		if shares <= 0 {
			return ErrZeroAmount
		}
		assets = v.ConvertToAssets(shares)
		if assets <= 0 {
			return ErrZeroAmount
		}
		return v.exit(holder, receiver, shares, assets)
	})
	return assets, err
}

func (v *Vault) exit(holder, receiver ledger.AccountKey, shares, assets int64) error {
	if have := v.token.BalanceOf(holder); have < shares {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientShares, holder.AccountPath(), have, shares)
	}
	p := v.pool.Get()
	if assets > p.LiquidAssets {
		return fmt.Errorf("%w: liquid %d, requested %d", ErrInsufficientLiquidity, p.LiquidAssets, assets)
	}

	p.LiquidAssets -= assets
	p.TotalSupply -= shares
	v.pool.Set(p)
	if err := v.checkpointPool(); err != nil {
		return err
	}

	if err := v.token.Transfer(holder, ledger.ShareMintKey(), shares, ledger.JournalTypeShareBurn); err != nil {
		return err
	}
	if err := v.token.Transfer(v.liquidityKey(), receiver, assets, ledger.JournalTypeVaultWithdrawal); err != nil {
		return err
	}

	owner, _ := holder.Owner()
	v.recorder.Record(event.AuditRecord{
		Kind:     event.AuditVaultWithdraw,
		Account:  owner,
		Epoch:    v.CurrentEpoch(),
		Amount:   assets,
		Quantity: shares,
	})
	return nil
}

// TransferShares moves shares between holders, e.g. into collateral escrow.
func (v *Vault) TransferShares(from, to ledger.AccountKey, shares int64) error {
	return v.nonReentrant(func() error {
		if shares <= 0 {
			return ErrZeroAmount
		}
		if have := v.token.BalanceOf(from); have < shares {
			return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientShares, from.AccountPath(), have, shares)
		}
		return v.token.Transfer(from, to, shares, ledger.JournalTypeShareTransfer)
	})
}
