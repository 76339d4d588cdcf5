package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm/clause"
)

func (d *DB) CreateSafe(ctx context.Context, safe *Safe) (bool, error) {
	if safe.Status == "" {
		safe.Status = SafeStatusPrecomputed
	}
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(safe)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *DB) GetSafe(ctx context.Context, id string) (*Safe, error) {
	var s Safe
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (d *DB) GetSafeByOwner(ctx context.Context, zkOwner string) (*Safe, error) {
	var s Safe
	if err := d.db.WithContext(ctx).Where("zk_owner_address = ?", zkOwner).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// FindSafeByAddress resolves by deployed address first, then by ZK owner address.
func (d *DB) FindSafeByAddress(ctx context.Context, address string) (*Safe, error) {
	var s Safe
	err := d.db.WithContext(ctx).Where("address = ?", address).First(&s).Error
	if err == nil {
		return &s, nil
	}
	if err = notFound(err); !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return d.GetSafeByOwner(ctx, address)
}

// TransitionSafe moves a Safe from one of tr.From to tr.To in a single conditional UPDATE.
// It reports false when the Safe was not in an expected state.
func (d *DB) TransitionSafe(ctx context.Context, id string, tr SafeTransition) (bool, error) {
	updates := map[string]any{
		"status":     tr.To,
		"deployed":   tr.To == SafeStatusDeployed,
		"updated_at": time.Now().UTC(),
	}
	if tr.To == SafeStatusDeployed {
		updates["address"] = tr.Address
	} else {
		updates["address"] = nil
	}
	if tr.TxHash != nil {
		updates["deploy_tx_hash"] = *tr.TxHash
	}

	res := d.db.WithContext(ctx).
		Model(&Safe{}).
		Where("id = ? AND status IN ?", id, tr.From).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *DB) InsertSignature(ctx context.Context, sig *SafeSignature) (bool, error) {
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(sig)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListSignatures returns signatures earliest first.
func (d *DB) ListSignatures(ctx context.Context, safeID string) ([]SafeSignature, error) {
	var sigs []SafeSignature
	err := d.db.WithContext(ctx).
		Where("safe_id = ?", safeID).
		Order("id ASC").
		Find(&sigs).Error
	return sigs, err
}
