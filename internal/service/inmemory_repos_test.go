package service

import (
	"strings"
	"sync"
	"time"

	"authgate/internal/domain"
	"authgate/internal/repository"
	"authgate/internal/totp"
)

type inMemorySessionRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.Session
}

func newInMemorySessionRepo() *inMemorySessionRepo {
	return &inMemorySessionRepo{nextID: 1, byID: map[uint]*domain.Session{}}
}

func (r *inMemorySessionRepo) Create(s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.ID = r.nextID
	cp.CreatedAt = time.Now().UTC()
	r.nextID++
	r.byID[cp.ID] = &cp
	*s = cp
	return nil
}

func (r *inMemorySessionRepo) FindByTokenHash(hash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.SessionTokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *inMemorySessionRepo) FindByIDForUser(userID, sessionID uint) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || s.UserID != userID {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *inMemorySessionRepo) ListActiveByUserID(userID uint) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []domain.Session
	for _, s := range r.byID {
		if s.UserID == userID && s.Active(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *inMemorySessionRepo) TouchLastActive(sessionID uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[sessionID]; ok {
		s.LastActiveAt = at
	}
	return nil
}

func (r *inMemorySessionRepo) Revoke(sessionID uint, revokedBy string, expireNow bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok || s.IsRevoked {
		return false, nil
	}
	now := time.Now().UTC()
	s.IsRevoked = true
	s.RevokedAt = &now
	s.RevokedBy = &revokedBy
	if expireNow {
		s.ExpiresAt = now
	}
	return true, nil
}

func (r *inMemorySessionRepo) RevokeOthersByUser(userID, keepSessionID uint, revokedBy string, expireNow bool) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var count int64
	for _, s := range r.byID {
		if s.UserID != userID || s.ID == keepSessionID || s.IsRevoked {
			continue
		}
		s.IsRevoked = true
		s.RevokedAt = &now
		rb := revokedBy
		s.RevokedBy = &rb
		if expireNow {
			s.ExpiresAt = now
		}
		count++
	}
	return count, nil
}

func (r *inMemorySessionRepo) DeleteByID(sessionID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, sessionID)
	return nil
}

func (r *inMemorySessionRepo) DeleteByUserID(userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, s := range r.byID {
		if s.UserID == userID {
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

func (r *inMemorySessionRepo) DeleteRevokedBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, s := range r.byID {
		if s.IsRevoked && s.RevokedAt != nil && s.RevokedAt.Before(cutoff) {
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

func (r *inMemorySessionRepo) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, s := range r.byID {
		if !s.IsRevoked && s.ExpiresAt.Before(cutoff) {
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

type inMemoryUserRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.User
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{nextID: 1, byID: map[uint]*domain.User{}}
}

func (r *inMemoryUserRepo) Create(u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if strings.EqualFold(existing.Email, u.Email) {
			return repository.ErrEmailTaken
		}
	}
	cp := *u
	cp.ID = r.nextID
	r.nextID++
	r.byID[cp.ID] = &cp
	*u = cp
	return nil
}

func (r *inMemoryUserRepo) FindByID(id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) FindByEmail(email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *inMemoryUserRepo) MarkEmailVerified(id uint, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.EmailVerifiedAt = &at
	}
	return nil
}

func (r *inMemoryUserRepo) UpdatePassword(id uint, passwordHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.PasswordHash = &passwordHash
		u.LastPasswordUpdate = &at
	}
	return nil
}

func (r *inMemoryUserRepo) EnableTwoFactor(id uint, encryptedSecret string, backupCodeHashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.TwoFactorEnabled = true
		u.TwoFactorSecret = &encryptedSecret
		u.BackupCodes = encodeHashesForTest(backupCodeHashes)
	}
	return nil
}

func (r *inMemoryUserRepo) DisableTwoFactor(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = nil
		u.BackupCodes = ""
	}
	return nil
}

func (r *inMemoryUserRepo) SpendBackupCode(id uint, codeHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return false, repository.ErrUserNotFound
	}
	hashes, err := repository.DecodeBackupCodes(u.BackupCodes)
	if err != nil {
		return false, err
	}
	ok, remaining := totp.ConsumeBackupCode(codeHash, hashes)
	if ok {
		u.BackupCodes = encodeHashesForTest(remaining)
	}
	return ok, nil
}

func (r *inMemoryUserRepo) Delete(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(r.byID, id)
	return nil
}

func encodeHashesForTest(hashes []string) string {
	if len(hashes) == 0 {
		return "[]"
	}
	quoted := make([]string, len(hashes))
	for i, h := range hashes {
		quoted[i] = `"` + h + `"`
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

type inMemoryTwoFactorTokenRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*domain.TwoFactorToken
}

func newInMemoryTwoFactorTokenRepo() *inMemoryTwoFactorTokenRepo {
	return &inMemoryTwoFactorTokenRepo{nextID: 1, byID: map[uint]*domain.TwoFactorToken{}}
}

func (r *inMemoryTwoFactorTokenRepo) Create(t *domain.TwoFactorToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	cp.ID = r.nextID
	r.nextID++
	r.byID[cp.ID] = &cp
	*t = cp
	return nil
}

func (r *inMemoryTwoFactorTokenRepo) FindByToken(token string) (*domain.TwoFactorToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.Token == token {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrTwoFactorTokenNotFound
}

func (r *inMemoryTwoFactorTokenRepo) MarkUsed(id uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	return true, nil
}

func (r *inMemoryTwoFactorTokenRepo) DeleteByUserID(userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.byID {
		if t.UserID == userID {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *inMemoryTwoFactorTokenRepo) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, t := range r.byID {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.byID, id)
			count++
		}
	}
	return count, nil
}

type inMemoryVerificationRepo struct {
	mu       sync.Mutex
	nextID   uint
	tokens   map[string]*domain.VerificationToken
	attempts map[uint]*domain.VerificationAttempt
}

func newInMemoryVerificationRepo() *inMemoryVerificationRepo {
	return &inMemoryVerificationRepo{
		nextID:   1,
		tokens:   map[string]*domain.VerificationToken{},
		attempts: map[uint]*domain.VerificationAttempt{},
	}
}

func (r *inMemoryVerificationRepo) CreateToken(t *domain.VerificationToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	cp.ID = r.nextID
	r.nextID++
	r.tokens[cp.Token] = &cp
	*t = cp
	return nil
}

func (r *inMemoryVerificationRepo) FindToken(token string) (*domain.VerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok {
		return nil, repository.ErrVerificationTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryVerificationRepo) DeleteToken(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}

func (r *inMemoryVerificationRepo) DeleteExpiredTokensBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for token, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.tokens, token)
			count++
		}
	}
	return count, nil
}

func (r *inMemoryVerificationRepo) CreateAttempt(a *domain.VerificationAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	cp.ID = r.nextID
	r.nextID++
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now().UTC()
	}
	r.attempts[cp.ID] = &cp
	*a = cp
	return nil
}

func (r *inMemoryVerificationRepo) CountAttempts(email string, vtype domain.VerificationType, stage domain.AttemptStage, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, a := range r.attempts {
		if strings.EqualFold(a.Email, email) && a.Type == vtype && a.Stage == stage && !a.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *inMemoryVerificationRepo) FindResetAttemptByToken(token string, since time.Time) (*domain.VerificationAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.Token != nil && *a.Token == token && a.Type == domain.VerificationPasswordReset && !a.Success && !a.Timestamp.Before(since) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrVerificationAttemptNotFound
}

func (r *inMemoryVerificationRepo) MarkAttemptSuccessful(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[id]; ok {
		a.Success = true
		a.Token = nil
	}
	return nil
}

func (r *inMemoryVerificationRepo) ClearRedemptions(email string, vtype domain.VerificationType, since time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.attempts {
		if strings.EqualFold(a.Email, email) && a.Type == vtype && a.Stage == domain.StageRedeem && !a.Timestamp.Before(since) {
			delete(r.attempts, id)
		}
	}
	return nil
}

func (r *inMemoryVerificationRepo) DeleteByEmail(email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, t := range r.tokens {
		if strings.EqualFold(t.Email, email) {
			delete(r.tokens, token)
		}
	}
	for id, a := range r.attempts {
		if strings.EqualFold(a.Email, email) {
			delete(r.attempts, id)
		}
	}
	return nil
}
