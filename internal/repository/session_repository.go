package repository

import (
	"context"
	"errors"
	"time"

	"authgate/internal/domain"
	"authgate/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(s *domain.Session) error
	FindByTokenHash(hash string) (*domain.Session, error)
	FindByIDForUser(userID, sessionID uint) (*domain.Session, error)
	ListActiveByUserID(userID uint) ([]domain.Session, error)
	TouchLastActive(sessionID uint, at time.Time) error
	Revoke(sessionID uint, revokedBy string, expireNow bool) (bool, error)
	RevokeOthersByUser(userID, keepSessionID uint, revokedBy string, expireNow bool) (int64, error)
	DeleteByID(sessionID uint) error
	DeleteByUserID(userID uint) (int64, error)
	DeleteRevokedBefore(cutoff time.Time) (int64, error)
	DeleteExpiredBefore(cutoff time.Time) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	if err := r.db.Create(s).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByTokenHash(hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("session_token_hash = ?", hash).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_token_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindByIDForUser(userID, sessionID uint) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("user_id = ? AND id = ?", userID, sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_user", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id_for_user", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("user_id = ? AND is_revoked = ? AND expires_at > ?", userID, false, time.Now()).
		Order("last_active_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) TouchLastActive(sessionID uint, at time.Time) error {
	err := r.db.Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Update("last_active_at", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "touch_last_active", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "touch_last_active", "success")
	return nil
}

// Revoke marks a session revoked. The guard on is_revoked keeps a second
// revoke a no-op: it reports changed=false instead of failing.
func (r *GormSessionRepository) Revoke(sessionID uint, revokedBy string, expireNow bool) (bool, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"is_revoked": true,
		"revoked_at": now,
		"revoked_by": revokedBy,
	}
	if expireNow {
		updates["expires_at"] = now
	}
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND is_revoked = ?", sessionID, false).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke", "success")
	return res.RowsAffected > 0, nil
}

// RevokeOthersByUser excludes the kept session by identity, never by
// recency. Only active sessions are counted.
func (r *GormSessionRepository) RevokeOthersByUser(userID, keepSessionID uint, revokedBy string, expireNow bool) (int64, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"is_revoked": true,
		"revoked_at": now,
		"revoked_by": revokedBy,
	}
	if expireNow {
		updates["expires_at"] = now
	}
	res := r.db.Model(&domain.Session{}).
		Where("user_id = ? AND id <> ? AND is_revoked = ? AND expires_at > ?", userID, keepSessionID, false, now).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_others_by_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_others_by_user", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) DeleteByID(sessionID uint) error {
	err := r.db.Delete(&domain.Session{}, sessionID).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_id", "success")
	return nil
}

// DeleteByUserID hard-deletes every session the user owns, revoked or not.
// Used when the account itself goes away.
func (r *GormSessionRepository) DeleteByUserID(userID uint) (int64, error) {
	res := r.db.Where("user_id = ?", userID).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_by_user", "success")
	return res.RowsAffected, nil
}

// DeleteRevokedBefore permanently removes sessions whose revocation predates
// the grace window. Run by the durable sweep, never inline with a revoke.
func (r *GormSessionRepository) DeleteRevokedBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("is_revoked = ? AND revoked_at < ?", true, cutoff).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_revoked_before", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_revoked_before", "success")
	return res.RowsAffected, nil
}

func (r *GormSessionRepository) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	res := r.db.Where("expires_at <= ?", cutoff).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired_before", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "delete_expired_before", "success")
	return res.RowsAffected, nil
}
