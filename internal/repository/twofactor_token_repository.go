package repository

import (
	"context"
	"errors"
	"time"

	"authgate/internal/domain"
	"authgate/internal/observability"

	"gorm.io/gorm"
)

var ErrTwoFactorTokenNotFound = errors.New("two-factor token not found")

type TwoFactorTokenRepository interface {
	Create(t *domain.TwoFactorToken) error
	FindByToken(token string) (*domain.TwoFactorToken, error)
	MarkUsed(id uint) (bool, error)
	DeleteByUserID(userID uint) error
	DeleteExpiredBefore(cutoff time.Time) (int64, error)
}

type GormTwoFactorTokenRepository struct{ db *gorm.DB }

func NewTwoFactorTokenRepository(db *gorm.DB) TwoFactorTokenRepository {
	return &GormTwoFactorTokenRepository{db: db}
}

func (r *GormTwoFactorTokenRepository) Create(t *domain.TwoFactorToken) error {
	if err := r.db.Create(t).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "create", "success")
	return nil
}

func (r *GormTwoFactorTokenRepository) FindByToken(token string) (*domain.TwoFactorToken, error) {
	var t domain.TwoFactorToken
	err := r.db.Where("token = ?", token).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "find_by_token", "not_found")
			return nil, ErrTwoFactorTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "find_by_token", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "find_by_token", "success")
	return &t, nil
}

// MarkUsed flips used exactly once; a second caller sees changed=false and
// must treat the token as spent.
func (r *GormTwoFactorTokenRepository) MarkUsed(id uint) (bool, error) {
	res := r.db.Model(&domain.TwoFactorToken{}).
		Where("id = ? AND used = ?", id, false).
		Update("used", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "mark_used", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "mark_used", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormTwoFactorTokenRepository) DeleteByUserID(userID uint) error {
	err := r.db.Where("user_id = ?", userID).Delete(&domain.TwoFactorToken{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "delete_by_user_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "delete_by_user_id", "success")
	return nil
}

func (r *GormTwoFactorTokenRepository) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", cutoff).Delete(&domain.TwoFactorToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "delete_expired_before", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "twofactor_token", "delete_expired_before", "success")
	return res.RowsAffected, nil
}
