// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/storeauth/pkg/errutil"
)

var tracer = otel.Tracer("github.com/storefront/storeauth/internal/auth")

// dummyPasswordHash is verified when an email is unknown so that the response
// time does not reveal whether the account exists. It matches no password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Transactor runs fn inside a database transaction carried by ctx.
// Repository calls made with the ctx passed to fn join that transaction.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps are the collaborators a Service needs. All are required except
// Policy, which defaults to DefaultPasswordPolicy.
type Deps struct {
	Users    UserRepository
	Sessions SessionRepository
	Resets   PasswordResetRepository
	Tx       Transactor
	Hasher   PasswordHasher
	Tokens   TokenCodec
	Policy   PasswordPolicy
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger used for audit events and internal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenTTL sets the lifetime of issued bearer tokens and their sessions.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithResetTTL sets how long a password reset token stays valid.
func WithResetTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithMetrics records operation metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service orchestrates registration, login, password changes, password
// resets, session tracking and backoffice approval. It holds no mutable
// state and is safe for concurrent use.
type Service struct {
	users    UserRepository
	sessions SessionRepository
	resets   PasswordResetRepository
	tx       Transactor
	hasher   PasswordHasher
	tokens   TokenCodec
	policy   PasswordPolicy
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	tokenTTL time.Duration
	resetTTL time.Duration
}

// NewService creates a Service, rejecting missing dependencies.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("sessions repository is required")
	case deps.Resets == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("resets repository is required")
	case deps.Tx == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("transactor is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token codec is required")
	}

	policy := deps.Policy
	if policy == (PasswordPolicy{}) {
		policy = DefaultPasswordPolicy()
	}

	s := &Service{
		users:    deps.Users,
		sessions: deps.Sessions,
		resets:   deps.Resets,
		tx:       deps.Tx,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		policy:   policy,
		logger:   slog.Default(),
		now:      time.Now,
		tokenTTL: DefaultTokenTTL,
		resetTTL: DefaultResetTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User      Profile
	Token     string
	ExpiresAt time.Time
	SessionID ulid.ULID
}

// SweepResult counts the rows removed by SweepExpired.
type SweepResult struct {
	Sessions int64
	Resets   int64
}

// Register creates a pending account and returns a token for it.
// Registration does not need approval; later logins do.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *AuthResult, err error) {
	ctx, span := s.start(ctx, "Register")
	defer func() { s.finish(span, "register", err) }()
	defer func() { s.metrics.registration(resultLabel(err)) }()

	if verr := in.Validate(); verr != nil {
		return nil, validationError("REGISTER_INVALID_INPUT", "invalid registration details", fieldViolations(verr))
	}
	email := NormalizeEmail(in.Email)

	if in.ConfirmPassword != nil && *in.ConfirmPassword != in.Password {
		return nil, validationError("REGISTER_PASSWORD_MISMATCH", "passwords do not match",
			[]string{"password confirmation does not match"})
	}

	if res := s.policy.Validate(in.Password); !res.Valid {
		return nil, validationError("REGISTER_WEAK_PASSWORD", "password does not meet requirements", res.Errors)
	}

	exists, err := s.users.EmailExists(ctx, email)
	if err != nil {
		return nil, s.internal(ctx, "REGISTER_FAILED", "check email", err)
	}
	if exists {
		return nil, emailTaken()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.internal(ctx, "REGISTER_FAILED", "hash password", err)
	}

	user, err := NewUser(email, hash, in.FirstName, in.LastName, s.now())
	if err != nil {
		return nil, s.internal(ctx, "REGISTER_FAILED", "build user", err)
	}

	// The account and its first session commit together.
	var result *AuthResult
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, ErrConflict) {
				return emailTaken()
			}
			return oops.With("operation", "create user").Wrap(err)
		}
		var err error
		result, err = s.newSession(ctx, user, "", "")
		return err
	})
	if err != nil {
		return nil, s.classify(ctx, "REGISTER_FAILED", err)
	}

	s.logger.InfoContext(ctx, "registration pending approval",
		"user_id", user.ID,
		"backoffice_status", string(user.BackofficeStatus))

	return result, nil
}

// Login authenticates an approved account and issues a token.
//
// Unknown email, inactive account and wrong password fail identically. The
// password is verified before the approval state is looked at, so callers
// without the password learn nothing about approval.
func (s *Service) Login(ctx context.Context, in LoginInput) (_ *AuthResult, err error) {
	ctx, span := s.start(ctx, "Login")
	defer func() { s.finish(span, "login", err) }()
	defer func() { s.metrics.login(resultLabel(err)) }()

	if verr := in.Validate(); verr != nil {
		return nil, validationError("LOGIN_INVALID_INPUT", "email and password are required", fieldViolations(verr))
	}

	user, lookupErr := s.users.GetByEmail(ctx, NormalizeEmail(in.Email))

	targetHash := dummyPasswordHash
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, s.internal(ctx, "AUTH_LOGIN_FAILED", "get user by email", lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		exists = true
	}

	// Always verify, even against the dummy hash.
	valid := s.hasher.Verify(in.Password, targetHash)

	if !exists || !valid || !user.IsActive {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").
			Public("invalid credentials").
			Wrapf(ErrAuthentication, "invalid credentials")
	}

	switch user.BackofficeStatus {
	case StatusApproved:
	case StatusRejected:
		s.logger.InfoContext(ctx, "login refused", "user_id", user.ID, "reason", "rejected")
		return nil, oops.Code("AUTH_ACCESS_REJECTED").
			With("user_id", user.ID).
			Public("access rejected").
			Wrapf(ErrAuthentication, "access rejected")
	default:
		s.logger.InfoContext(ctx, "login refused", "user_id", user.ID, "reason", "pending")
		return nil, oops.Code("AUTH_ACCESS_PENDING").
			With("user_id", user.ID).
			Public("access pending").
			Wrapf(ErrAuthentication, "access pending")
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, in.Password)
	}

	return s.issue(ctx, user, in.UserAgent, in.IPAddress)
}

// ChangePassword replaces the password of a user who knows the current one
// and revokes every session of that user.
func (s *Service) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) (err error) {
	ctx, span := s.start(ctx, "ChangePassword", attribute.Int64("user_id", userID))
	defer func() { s.finish(span, "change_password", err) }()

	user, err := s.getUser(ctx, userID, "PASSWORD_CHANGE_FAILED")
	if err != nil {
		return err
	}

	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return validationError("PASSWORD_CURRENT_INCORRECT", "current password incorrect",
			[]string{"current password incorrect"})
	}

	if res := s.policy.Validate(newPassword); !res.Valid {
		return validationError("PASSWORD_WEAK", "password does not meet requirements", res.Errors)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.internal(ctx, "PASSWORD_CHANGE_FAILED", "hash password", err)
	}

	var revoked int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.lockUser(ctx, userID)
		if err != nil {
			return err
		}
		// The password verified above must still be the current one.
		if locked.PasswordHash != user.PasswordHash {
			return validationError("PASSWORD_CURRENT_INCORRECT", "current password incorrect",
				[]string{"current password incorrect"})
		}
		updated := locked.Apply(UserPatch{PasswordHash: &hash}, s.now())
		if err := s.users.Update(ctx, &updated); err != nil {
			return oops.With("operation", "update password").Wrap(err)
		}
		n, err := s.sessions.DeleteByUser(ctx, userID)
		if err != nil {
			return oops.With("operation", "delete sessions").Wrap(err)
		}
		revoked = n
		return nil
	})
	if err != nil {
		return s.classify(ctx, "PASSWORD_CHANGE_FAILED", err)
	}

	s.logger.InfoContext(ctx, "password changed", "user_id", userID, "sessions_revoked", revoked)
	return nil
}

// RequestReset issues a password reset token for the account with the given
// email, replacing any earlier one. The returned ticket holds the only copy
// of the plaintext token.
func (s *Service) RequestReset(ctx context.Context, email string) (_ *ResetTicket, err error) {
	ctx, span := s.start(ctx, "RequestReset")
	defer func() { s.finish(span, "request_reset", err) }()
	defer func() { s.metrics.reset("request", resultLabel(err)) }()

	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("RESET_USER_NOT_FOUND").Public("account not found").
				Wrapf(ErrNotFound, "no account for email")
		}
		return nil, s.internal(ctx, "RESET_REQUEST_FAILED", "get user by email", err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return nil, s.internal(ctx, "RESET_REQUEST_FAILED", "generate token", err)
	}

	now := s.now()
	reset, err := NewPasswordReset(user.ID, hash, now.Add(s.resetTTL), now)
	if err != nil {
		return nil, s.internal(ctx, "RESET_REQUEST_FAILED", "build reset", err)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.resets.DeleteByUser(ctx, user.ID); err != nil {
			return oops.With("operation", "delete prior resets").Wrap(err)
		}
		if err := s.resets.Create(ctx, reset); err != nil {
			return oops.With("operation", "create reset").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, "RESET_REQUEST_FAILED", err)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		"user_id", user.ID,
		"reset_id", reset.ID.String(),
		"expires_at", reset.ExpiresAt)

	return &ResetTicket{
		Token:       token,
		DisplayName: user.DisplayName(),
		Email:       user.Email,
		ExpiresAt:   reset.ExpiresAt,
	}, nil
}

// ConfirmReset sets a new password using a reset token. The token is
// consumed atomically: of two concurrent calls with the same token exactly
// one succeeds. All resets and sessions of the user are removed.
func (s *Service) ConfirmReset(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := s.start(ctx, "ConfirmReset")
	defer func() { s.finish(span, "confirm_reset", err) }()
	defer func() { s.metrics.reset("confirm", resultLabel(err)) }()

	if token == "" {
		return oops.Code("RESET_TOKEN_EMPTY").Public("invalid reset token").
			Wrapf(ErrInvalidToken, "reset token cannot be empty")
	}
	hash := HashToken(token)

	reset, err := s.resets.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidResetToken()
		}
		return s.internal(ctx, "RESET_CONFIRM_FAILED", "get reset by token hash", err)
	}

	now := s.now()
	if reset.IsExpiredAt(now) {
		if err := s.resets.Delete(ctx, reset.ID); err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.WarnContext(ctx, "best-effort expired reset cleanup failed",
				"operation", "delete_expired_reset",
				"reset_id", reset.ID.String(),
				"error", err.Error())
		}
		return expiredResetToken(reset)
	}

	if res := s.policy.Validate(newPassword); !res.Valid {
		return validationError("RESET_WEAK_PASSWORD", "password does not meet requirements", res.Errors)
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.internal(ctx, "RESET_CONFIRM_FAILED", "hash password", err)
	}

	var userID int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		consumed, err := s.resets.Consume(ctx, hash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return invalidResetToken()
			}
			return oops.With("operation", "consume reset").Wrap(err)
		}
		if consumed.IsExpiredAt(now) {
			return expiredResetToken(consumed)
		}
		userID = consumed.UserID

		user, err := s.users.GetByIDForUpdate(ctx, consumed.UserID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return invalidResetToken()
			}
			return oops.With("operation", "get reset owner").Wrap(err)
		}

		updated := user.Apply(UserPatch{PasswordHash: &newHash}, now)
		if err := s.users.Update(ctx, &updated); err != nil {
			return oops.With("operation", "update password").Wrap(err)
		}
		if _, err := s.resets.DeleteByUser(ctx, consumed.UserID); err != nil {
			return oops.With("operation", "delete sibling resets").Wrap(err)
		}
		if _, err := s.sessions.DeleteByUser(ctx, consumed.UserID); err != nil {
			return oops.With("operation", "delete sessions").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return s.classify(ctx, "RESET_CONFIRM_FAILED", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", userID)
	return nil
}

// ApproveAccess lets the account log in. It clears a previous rejection.
func (s *Service) ApproveAccess(ctx context.Context, userID int64) (*Profile, error) {
	return s.setBackofficeStatus(ctx, userID, StatusApproved)
}

// RejectAccess blocks login for the account. It clears a previous approval.
func (s *Service) RejectAccess(ctx context.Context, userID int64) (*Profile, error) {
	return s.setBackofficeStatus(ctx, userID, StatusRejected)
}

func (s *Service) setBackofficeStatus(ctx context.Context, userID int64, status BackofficeStatus) (_ *Profile, err error) {
	ctx, span := s.start(ctx, "SetBackofficeStatus",
		attribute.Int64("user_id", userID),
		attribute.String("status", string(status)))
	defer func() { s.finish(span, "set_backoffice_status", err) }()

	var (
		updated User
		from    BackofficeStatus
	)
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := s.lockUser(ctx, userID)
		if err != nil {
			return err
		}
		from = user.BackofficeStatus
		if from == status {
			updated = *user
			return nil
		}
		updated = user.Apply(UserPatch{BackofficeStatus: &status}, s.now())
		if err := s.users.Update(ctx, &updated); err != nil {
			return oops.With("operation", "update status").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, "BACKOFFICE_STATUS_FAILED", err)
	}

	if from != status {
		s.logger.InfoContext(ctx, "backoffice status changed",
			"user_id", userID,
			"from", string(from),
			"to", string(status))
	}

	p := updated.Profile()
	return &p, nil
}

// VerifyToken checks a bearer token without touching storage.
func (s *Service) VerifyToken(token string) (*Claims, error) {
	return s.tokens.Verify(token)
}

// ValidateSession verifies a bearer token and additionally requires a live
// session record for it. Endpoints that must honor revocation use this
// instead of VerifyToken.
func (s *Service) ValidateSession(ctx context.Context, token string) (_ *UserSession, err error) {
	ctx, span := s.start(ctx, "ValidateSession")
	defer func() { s.finish(span, "validate_session", err) }()

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Public("invalid session").
				Wrapf(ErrInvalidToken, "no session for token")
		}
		return nil, s.internal(ctx, "SESSION_VALIDATE_FAILED", "get session by token hash", err)
	}
	if session.UserID != claims.UserID {
		return nil, oops.Code("SESSION_INVALID").
			With("session_id", session.ID.String()).
			Public("invalid session").
			Wrapf(ErrInvalidToken, "session belongs to another user")
	}

	now := s.now()
	if session.IsExpiredAt(now) {
		return nil, oops.Code("SESSION_EXPIRED").
			With("session_id", session.ID.String()).
			Public("session expired").
			Wrapf(ErrInvalidToken, "session has expired")
	}

	if err := s.sessions.Touch(ctx, session.ID, now); err != nil {
		s.logger.WarnContext(ctx, "best-effort last seen update failed",
			"operation", "touch_session",
			"session_id", session.ID.String(),
			"error", err.Error())
	}
	session.LastSeenAt = now
	return session, nil
}

// Logout force-expires the session of a token. The row is kept for audit.
func (s *Service) Logout(ctx context.Context, token string) (err error) {
	ctx, span := s.start(ctx, "Logout")
	defer func() { s.finish(span, "logout", err) }()

	session, err := s.sessions.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").Public("session not found").
				Wrapf(ErrNotFound, "no session for token")
		}
		return s.internal(ctx, "AUTH_LOGOUT_FAILED", "get session by token hash", err)
	}
	if err := s.sessions.Invalidate(ctx, session.ID); err != nil {
		return s.classify(ctx, "AUTH_LOGOUT_FAILED", err)
	}
	return nil
}

// ListSessions returns the sessions of a user, optionally only active ones.
func (s *Service) ListSessions(ctx context.Context, userID int64, activeOnly bool) ([]*UserSession, error) {
	var (
		sessions []*UserSession
		err      error
	)
	if activeOnly {
		sessions, err = s.sessions.ListActiveByUser(ctx, userID)
	} else {
		sessions, err = s.sessions.ListByUser(ctx, userID)
	}
	if err != nil {
		return nil, s.internal(ctx, "SESSION_LIST_FAILED", "list sessions", err)
	}
	return sessions, nil
}

// ExtendSession makes a live session last at least until now+ttl. A later
// expiry is kept, and expired or revoked sessions stay dead.
func (s *Service) ExtendSession(ctx context.Context, sessionID ulid.ULID, ttl time.Duration) error {
	if ttl <= 0 {
		return validationError("SESSION_TTL_INVALID", "ttl must be positive", []string{"ttl must be positive"})
	}
	if err := s.sessions.Extend(ctx, sessionID, s.now().Add(ttl)); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", sessionID.String()).
				Public("session not found").
				Wrapf(ErrNotFound, "no live session %s", sessionID)
		}
		return s.classify(ctx, "SESSION_EXTEND_FAILED", err)
	}
	return nil
}

// RevokeSession deletes a single session.
func (s *Service) RevokeSession(ctx context.Context, sessionID ulid.ULID) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return s.classify(ctx, "SESSION_REVOKE_FAILED", err)
	}
	return nil
}

// RevokeAllSessions deletes every session of a user.
func (s *Service) RevokeAllSessions(ctx context.Context, userID int64) (int64, error) {
	n, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, s.internal(ctx, "SESSION_REVOKE_FAILED", "delete sessions by user", err)
	}
	return n, nil
}

// GetUser returns the profile of a user.
func (s *Service) GetUser(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.getUser(ctx, userID, "USER_GET_FAILED")
	if err != nil {
		return nil, err
	}
	p := user.Profile()
	return &p, nil
}

// GetUserByEmail returns the profile of the account with the given email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*Profile, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").Public("account not found").
				Wrapf(ErrNotFound, "no account for email")
		}
		return nil, s.internal(ctx, "USER_GET_FAILED", "get user by email", err)
	}
	p := user.Profile()
	return &p, nil
}

// EmailExists reports whether an account uses the email.
func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	exists, err := s.users.EmailExists(ctx, NormalizeEmail(email))
	if err != nil {
		return false, s.internal(ctx, "USER_LOOKUP_FAILED", "check email", err)
	}
	return exists, nil
}

// UpdateProfile merges the patch into the stored user. Credentials and
// approval state are changed only through their dedicated operations, so
// PasswordHash and BackofficeStatus in the patch are ignored.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, patch UserPatch) (_ *Profile, err error) {
	ctx, span := s.start(ctx, "UpdateProfile", attribute.Int64("user_id", userID))
	defer func() { s.finish(span, "update_profile", err) }()

	patch.PasswordHash = nil
	patch.BackofficeStatus = nil

	if patch.Email != nil {
		email := NormalizeEmail(*patch.Email)
		if verr := validateEmail(email); verr != nil {
			return nil, validationError("USER_INVALID_EMAIL", "invalid email", []string{"Email: " + verr.Error()})
		}
		patch.Email = &email
	}

	var updated User
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := s.lockUser(ctx, userID)
		if err != nil {
			return err
		}
		if patch.Email != nil && *patch.Email != user.Email {
			exists, err := s.users.EmailExists(ctx, *patch.Email)
			if err != nil {
				return oops.With("operation", "check email").Wrap(err)
			}
			if exists {
				return emailTaken()
			}
		}
		updated = user.Apply(patch, s.now())
		if err := s.users.Update(ctx, &updated); err != nil {
			if errors.Is(err, ErrConflict) {
				return emailTaken()
			}
			return oops.With("operation", "update user").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, "USER_UPDATE_FAILED", err)
	}

	p := updated.Profile()
	return &p, nil
}

// SetActive flips the administrative kill-switch. Deactivating an account
// also revokes its sessions. Approval state is untouched.
func (s *Service) SetActive(ctx context.Context, userID int64, active bool) (_ *Profile, err error) {
	ctx, span := s.start(ctx, "SetActive", attribute.Int64("user_id", userID))
	defer func() { s.finish(span, "set_active", err) }()

	var updated User
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		user, err := s.lockUser(ctx, userID)
		if err != nil {
			return err
		}
		updated = user.Apply(UserPatch{IsActive: &active}, s.now())
		if err := s.users.Update(ctx, &updated); err != nil {
			return oops.With("operation", "update user").Wrap(err)
		}
		if active {
			return nil
		}
		if _, err := s.sessions.DeleteByUser(ctx, userID); err != nil {
			return oops.With("operation", "delete sessions").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(ctx, "USER_UPDATE_FAILED", err)
	}

	p := updated.Profile()
	return &p, nil
}

// DeleteUser removes a user together with its sessions and resets.
func (s *Service) DeleteUser(ctx context.Context, userID int64) (err error) {
	ctx, span := s.start(ctx, "DeleteUser", attribute.Int64("user_id", userID))
	defer func() { s.finish(span, "delete_user", err) }()

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.resets.DeleteByUser(ctx, userID); err != nil {
			return oops.With("operation", "delete resets").Wrap(err)
		}
		if _, err := s.sessions.DeleteByUser(ctx, userID); err != nil {
			return oops.With("operation", "delete sessions").Wrap(err)
		}
		if err := s.users.Delete(ctx, userID); err != nil {
			return oops.With("operation", "delete user").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return s.classify(ctx, "USER_DELETE_FAILED", err)
	}

	s.logger.InfoContext(ctx, "user deleted", "user_id", userID)
	return nil
}

// PendingApprovals lists accounts waiting for backoffice approval, oldest
// first.
func (s *Service) PendingApprovals(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > maxPendingListed {
		limit = maxPendingListed
	}
	users, err := s.users.ListByBackofficeStatus(ctx, StatusPending, limit)
	if err != nil {
		return nil, s.internal(ctx, "USER_LIST_FAILED", "list pending users", err)
	}
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return out, nil
}

// SweepExpired deletes expired sessions and reset requests.
func (s *Service) SweepExpired(ctx context.Context) (_ SweepResult, err error) {
	ctx, span := s.start(ctx, "SweepExpired")
	defer func() { s.finish(span, "sweep_expired", err) }()

	var result SweepResult
	result.Sessions, err = s.sessions.DeleteExpired(ctx)
	if err != nil {
		return result, s.internal(ctx, "SWEEP_FAILED", "delete expired sessions", err)
	}
	s.metrics.swept("user_sessions", result.Sessions)

	result.Resets, err = s.resets.DeleteExpired(ctx)
	if err != nil {
		return result, s.internal(ctx, "SWEEP_FAILED", "delete expired resets", err)
	}
	s.metrics.swept("password_resets", result.Resets)

	return result, nil
}

// issue signs a token for user and records a session for it.
func (s *Service) issue(ctx context.Context, user *User, userAgent, ipAddress string) (*AuthResult, error) {
	result, err := s.newSession(ctx, user, userAgent, ipAddress)
	if err != nil {
		return nil, s.internal(ctx, "AUTH_SESSION_CREATE_FAILED", "", err)
	}
	return result, nil
}

// newSession is issue without logging, for use inside a transaction.
func (s *Service) newSession(ctx context.Context, user *User, userAgent, ipAddress string) (*AuthResult, error) {
	token, expiresAt, err := s.tokens.Issue(ClaimsFor(user), s.tokenTTL)
	if err != nil {
		return nil, oops.Code("AUTH_TOKEN_FAILED").With("operation", "issue token").Wrap(err)
	}

	session, err := NewUserSession(user.ID, HashToken(token), userAgent, ipAddress, expiresAt, s.now())
	if err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").With("operation", "build session").Wrap(err)
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, oops.Code("AUTH_SESSION_CREATE_FAILED").With("operation", "persist session").Wrap(err)
	}

	return &AuthResult{
		User:      user.Profile(),
		Token:     token,
		ExpiresAt: expiresAt,
		SessionID: session.ID,
	}, nil
}

// upgradeHash re-hashes a verified password with current parameters.
// Login succeeds regardless of the outcome. A password changed since the
// caller read the user is left alone.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort hash upgrade failed",
			"operation", "hash_password", "user_id", user.ID, "error", err.Error())
		return
	}
	var updated User
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.users.GetByIDForUpdate(ctx, user.ID)
		if err != nil {
			return err
		}
		if locked.PasswordHash != user.PasswordHash {
			updated = *locked
			return nil
		}
		updated = locked.Apply(UserPatch{PasswordHash: &newHash}, s.now())
		return s.users.Update(ctx, &updated)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort hash upgrade failed",
			"operation", "update_user", "user_id", user.ID, "error", err.Error())
		return
	}
	*user = updated
}

// getUser loads a user, turning absence into a NotFound failure.
func (s *Service) getUser(ctx context.Context, userID int64, code string) (*User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userNotFound(userID)
		}
		return nil, s.internal(ctx, code, "get user by id", err)
	}
	return user, nil
}

// lockUser loads a user and holds its row lock for the rest of the
// enclosing transaction. Errors are left for the caller to classify.
func (s *Service) lockUser(ctx context.Context, userID int64) (*User, error) {
	user, err := s.users.GetByIDForUpdate(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userNotFound(userID)
		}
		return nil, oops.With("operation", "lock user").Wrap(err)
	}
	return user, nil
}

// classify passes classified failures through and logs the rest as internal.
func (s *Service) classify(ctx context.Context, code string, err error) error {
	if KindOf(err) != KindInternal {
		return err
	}
	return s.internal(ctx, code, "", err)
}

// internal wraps and logs an unclassified failure.
func (s *Service) internal(ctx context.Context, code, operation string, err error) error {
	b := oops.Code(code)
	if operation != "" {
		b = b.With("operation", operation)
	}
	wrapped := b.Wrap(err)
	errutil.LogErrorContext(ctx, s.logger, "auth operation failed", wrapped)
	return wrapped
}

// opSpan pairs a trace span with the start time of the operation.
type opSpan struct {
	trace.Span
	started time.Time
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, opSpan) {
	ctx, span := tracer.Start(ctx, "auth."+name, trace.WithAttributes(attrs...))
	return ctx, opSpan{Span: span, started: time.Now()}
}

func (s *Service) finish(span opSpan, operation string, err error) {
	if err != nil {
		kind := KindOf(err)
		span.SetAttributes(attribute.String("auth.failure_kind", kind.String()))
		if kind == KindInternal {
			span.SetStatus(codes.Error, "internal failure")
		}
	}
	span.End()
	s.metrics.observe(operation, span.started)
}

func emailTaken() error {
	return oops.Code("REGISTER_EMAIL_TAKEN").
		Public("email already registered").
		Wrapf(ErrConflict, "email already registered")
}

func invalidResetToken() error {
	return oops.Code("RESET_TOKEN_INVALID").
		Public("invalid reset token").
		Wrapf(ErrInvalidToken, "reset token not found")
}

func expiredResetToken(r *PasswordReset) error {
	return oops.Code("RESET_TOKEN_EXPIRED").
		With("reset_id", r.ID.String()).
		With("expired_at", r.ExpiresAt).
		Public("reset token expired").
		Wrapf(ErrExpiredToken, "reset token has expired")
}

func userNotFound(userID int64) error {
	return oops.Code("USER_NOT_FOUND").
		With("user_id", userID).
		Public("account not found").
		Wrapf(ErrNotFound, "no account with id %d", userID)
}
