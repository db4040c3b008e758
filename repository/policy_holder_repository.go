package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/welleazyhts/Renewal-Backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PolicyHolderRepositoryImpl implements PolicyHolderRepository
type PolicyHolderRepositoryImpl struct {
	*BaseRepository[models.PolicyHolder, models.PolicyHolderFilter]
}

func NewPolicyHolderRepository(db *gorm.DB) PolicyHolderRepository {
	return &PolicyHolderRepositoryImpl{BaseRepository: NewBaseRepository[models.PolicyHolder, models.PolicyHolderFilter](db)}
}

func (r *PolicyHolderRepositoryImpl) ByPolicyNumber(ctx context.Context, policyNumber string) (*models.PolicyHolder, error) {
	db := r.getDB(ctx)
	var row models.PolicyHolder
	if err := db.Where("policy_number = ?", policyNumber).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpsertBatch inserts holders, updating contact and renewal fields when
// the policy number already exists. Re-uploading a file refreshes the
// dataset instead of duplicating it.
func (r *PolicyHolderRepositoryImpl) UpsertBatch(ctx context.Context, holders []*models.PolicyHolder) error {
	if len(holders) == 0 {
		return nil
	}
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}
	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	err = db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "policy_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"full_name", "email", "phone", "whatsapp", "policy_type",
			"city", "renewal_date", "premium_amount", "segments", "updated_at",
		}),
	}).CreateInBatches(holders, 100).Error
	if err != nil {
		return fmt.Errorf("failed to upsert policy holders: %w", err)
	}
	return nil
}

func (r *PolicyHolderRepositoryImpl) applyFilter(db *gorm.DB, f models.PolicyHolderFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.PolicyNumber != nil {
		db = db.Where("policy_number = ?", *f.PolicyNumber)
	}
	if len(f.PolicyTypes) > 0 {
		db = db.Where("policy_type IN ?", f.PolicyTypes)
	}
	if len(f.Cities) > 0 {
		db = db.Where("city IN ?", f.Cities)
	}
	if f.Segments != nil && len(*f.Segments) > 0 {
		db = db.Where("segments && ?", *f.Segments)
	}
	if f.RenewalDateAfter != nil {
		db = db.Where("renewal_date >= ?", *f.RenewalDateAfter)
	}
	if f.RenewalDateBefore != nil {
		db = db.Where("renewal_date < ?", *f.RenewalDateBefore)
	}
	return db
}

func (r *PolicyHolderRepositoryImpl) ByFilter(ctx context.Context, filter models.PolicyHolderFilter, orderBy string, limit, offset int) ([]*models.PolicyHolder, error) {
	db := r.getDB(ctx)
	var rows []*models.PolicyHolder
	q := r.applyFilter(db, filter)
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PolicyHolderRepositoryImpl) Count(ctx context.Context, filter models.PolicyHolderFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.PolicyHolder{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
