package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"authgate/internal/domain"
	"authgate/internal/observability"
	"authgate/internal/totp"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type UserRepository interface {
	Create(u *domain.User) error
	FindByID(id uint) (*domain.User, error)
	FindByEmail(email string) (*domain.User, error)
	MarkEmailVerified(id uint, at time.Time) error
	UpdatePassword(id uint, passwordHash string, at time.Time) error
	EnableTwoFactor(id uint, encryptedSecret string, backupCodeHashes []string) error
	DisableTwoFactor(id uint) error
	SpendBackupCode(id uint, codeHash string) (bool, error)
	Delete(id uint) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) Create(u *domain.User) error {
	var existing domain.User
	err := r.db.Where("email = ?", u.Email).First(&existing).Error
	if err == nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "create", "conflict")
		return ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		observability.RecordRepositoryOperation(context.Background(), "user", "create", "error")
		return err
	}
	if err := r.db.Create(u).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "create", "success")
	return nil
}

func (r *GormUserRepository) FindByID(id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(email string) (*domain.User, error) {
	var u domain.User
	err := r.db.Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) MarkEmailVerified(id uint, at time.Time) error {
	err := r.db.Model(&domain.User{}).
		Where("id = ?", id).
		Update("email_verified_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "mark_email_verified", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "mark_email_verified", "success")
	return nil
}

func (r *GormUserRepository) UpdatePassword(id uint, passwordHash string, at time.Time) error {
	err := r.db.Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"password_hash": passwordHash, "last_password_update": at}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "update_password", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "update_password", "success")
	return nil
}

// EnableTwoFactor replaces any prior 2FA state wholesale: secret, backup
// codes and flag are written together.
func (r *GormUserRepository) EnableTwoFactor(id uint, encryptedSecret string, backupCodeHashes []string) error {
	encoded, err := json.Marshal(backupCodeHashes)
	if err != nil {
		return fmt.Errorf("encode backup codes: %w", err)
	}
	err = r.db.Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"two_factor_enabled": true,
			"two_factor_secret":  encryptedSecret,
			"backup_codes":       string(encoded),
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "enable_two_factor", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "enable_two_factor", "success")
	return nil
}

func (r *GormUserRepository) DisableTwoFactor(id uint) error {
	err := r.db.Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"two_factor_enabled": false,
			"two_factor_secret":  nil,
			"backup_codes":       "",
		}).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "disable_two_factor", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "disable_two_factor", "success")
	return nil
}

// SpendBackupCode removes one backup code hash from the stored set inside a
// row-locking transaction, so concurrent redemptions of the same code cannot
// both succeed.
func (r *GormUserRepository) SpendBackupCode(id uint, codeHash string) (bool, error) {
	spent := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		hashes, err := DecodeBackupCodes(u.BackupCodes)
		if err != nil {
			return err
		}
		var remaining []string
		spent, remaining = totp.ConsumeBackupCode(codeHash, hashes)
		if !spent {
			return nil
		}
		encoded, err := json.Marshal(remaining)
		if err != nil {
			return fmt.Errorf("encode backup codes: %w", err)
		}
		return tx.Model(&domain.User{}).
			Where("id = ?", id).
			Update("backup_codes", string(encoded)).Error
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrUserNotFound) {
			outcome = "not_found"
		}
		observability.RecordRepositoryOperation(context.Background(), "user", "spend_backup_code", outcome)
		return false, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "spend_backup_code", "success")
	return spent, nil
}

func (r *GormUserRepository) Delete(id uint) error {
	res := r.db.Delete(&domain.User{}, id)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "user", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "user", "delete", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "user", "delete", "success")
	return nil
}

// DecodeBackupCodes parses the stored hash set; an empty column is an empty
// set, not an error.
func DecodeBackupCodes(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(raw), &hashes); err != nil {
		return nil, fmt.Errorf("decode backup codes: %w", err)
	}
	return hashes, nil
}
