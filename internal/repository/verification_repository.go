package repository

import (
	"context"
	"errors"
	"time"

	"authgate/internal/domain"
	"authgate/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrVerificationTokenNotFound   = errors.New("verification token not found")
	ErrVerificationAttemptNotFound = errors.New("verification attempt not found")
)

type VerificationRepository interface {
	CreateToken(t *domain.VerificationToken) error
	FindToken(token string) (*domain.VerificationToken, error)
	DeleteToken(token string) error
	DeleteExpiredTokensBefore(cutoff time.Time) (int64, error)

	CreateAttempt(a *domain.VerificationAttempt) error
	CountAttempts(email string, vtype domain.VerificationType, stage domain.AttemptStage, since time.Time) (int64, error)
	FindResetAttemptByToken(token string, since time.Time) (*domain.VerificationAttempt, error)
	MarkAttemptSuccessful(id uint) error
	ClearRedemptions(email string, vtype domain.VerificationType, since time.Time) error
	DeleteByEmail(email string) error
}

type GormVerificationRepository struct{ db *gorm.DB }

func NewVerificationRepository(db *gorm.DB) VerificationRepository {
	return &GormVerificationRepository{db: db}
}

func (r *GormVerificationRepository) CreateToken(t *domain.VerificationToken) error {
	if err := r.db.Create(t).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_token", "create", "success")
	return nil
}

func (r *GormVerificationRepository) FindToken(token string) (*domain.VerificationToken, error) {
	var t domain.VerificationToken
	err := r.db.Where("token = ?", token).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "verification_token", "find", "not_found")
			return nil, ErrVerificationTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "verification_token", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_token", "find", "success")
	return &t, nil
}

func (r *GormVerificationRepository) DeleteToken(token string) error {
	err := r.db.Where("token = ?", token).Delete(&domain.VerificationToken{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_token", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_token", "delete", "success")
	return nil
}

func (r *GormVerificationRepository) DeleteExpiredTokensBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", cutoff).Delete(&domain.VerificationToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_token", "delete_expired_before", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_token", "delete_expired_before", "success")
	return res.RowsAffected, nil
}

func (r *GormVerificationRepository) CreateAttempt(a *domain.VerificationAttempt) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if err := r.db.Create(a).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "create", "success")
	return nil
}

func (r *GormVerificationRepository) CountAttempts(email string, vtype domain.VerificationType, stage domain.AttemptStage, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&domain.VerificationAttempt{}).
		Where("email = ? AND type = ? AND stage = ? AND timestamp >= ?", email, vtype, stage, since).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "count", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "count", "success")
	return count, nil
}

// FindResetAttemptByToken resolves a password-reset link. Attempts already
// marked successful have a nulled token and can never match again.
func (r *GormVerificationRepository) FindResetAttemptByToken(token string, since time.Time) (*domain.VerificationAttempt, error) {
	var a domain.VerificationAttempt
	err := r.db.Where("token = ? AND type = ? AND success = ? AND timestamp >= ?",
		token, domain.VerificationPasswordReset, false, since).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "find_reset_by_token", "not_found")
			return nil, ErrVerificationAttemptNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "find_reset_by_token", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "find_reset_by_token", "success")
	return &a, nil
}

func (r *GormVerificationRepository) MarkAttemptSuccessful(id uint) error {
	err := r.db.Model(&domain.VerificationAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{"success": true, "token": nil}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "mark_successful", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "mark_successful", "success")
	return nil
}

// ClearRedemptions wipes the short-window guessing ledger for an email so a
// fresh issuance starts at zero. Issuance rows are untouched.
func (r *GormVerificationRepository) ClearRedemptions(email string, vtype domain.VerificationType, since time.Time) error {
	err := r.db.Where("email = ? AND type = ? AND stage = ? AND timestamp >= ?",
		email, vtype, domain.StageRedeem, since).
		Delete(&domain.VerificationAttempt{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "clear_redemptions", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "clear_redemptions", "success")
	return nil
}

// DeleteByEmail removes every verification token and ledger row for an
// address. Used when the owning account is deleted.
func (r *GormVerificationRepository) DeleteByEmail(email string) error {
	if err := r.db.Where("email = ?", email).Delete(&domain.VerificationToken{}).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_token", "delete_by_email", "error")
		return err
	}
	if err := r.db.Where("email = ?", email).Delete(&domain.VerificationAttempt{}).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "verification_attempt", "delete_by_email", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "verification_token", "delete_by_email", "success")
	return nil
}
