package store

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/clause"
)

func (d *DB) CreateProposal(ctx context.Context, p *Proposal) error {
	return d.db.WithContext(ctx).Create(p).Error
}

func (d *DB) GetProposal(ctx context.Context, id uint64) (*Proposal, error) {
	var p Proposal
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (d *DB) ListProposals(ctx context.Context) ([]Proposal, error) {
	var ps []Proposal
	err := d.db.WithContext(ctx).Order("id DESC").Find(&ps).Error
	return ps, err
}

func (d *DB) ListProposalsBySafe(ctx context.Context, safeAddress string) ([]Proposal, error) {
	var ps []Proposal
	err := d.db.WithContext(ctx).
		Where("safe_address = ?", safeAddress).
		Order("id DESC").
		Find(&ps).Error
	return ps, err
}

func (d *DB) InsertProof(ctx context.Context, p *Proof) (bool, error) {
	res := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *DB) GetProof(ctx context.Context, id uint64) (*Proof, error) {
	var p Proof
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (d *DB) GetProofByValue(ctx context.Context, proposalID uint64, value string) (*Proof, error) {
	var p Proof
	err := d.db.WithContext(ctx).
		Where("proposal_id = ? AND value = ?", proposalID, value).
		First(&p).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// FillProofData sets zk data only if none is stored yet.
func (d *DB) FillProofData(ctx context.Context, proofID uint64, data []byte) (bool, error) {
	res := d.db.WithContext(ctx).
		Model(&Proof{}).
		Where("id = ? AND zk_proof_data IS NULL", proofID).
		Updates(map[string]any{
			"zk_proof_data": datatypes.JSON(data),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListProofs returns proofs in submission order.
func (d *DB) ListProofs(ctx context.Context, proposalID uint64) ([]Proof, error) {
	var ps []Proof
	err := d.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("id ASC").
		Find(&ps).Error
	return ps, err
}
