package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Accounts is the credential side the service relies on. auth.Manager
// implements it.
type Accounts interface {
	VerifyCredential(ctx context.Context, username, password string) error
	CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SetUserActive(ctx context.Context, username string, active bool) (domain.User, error)
	ChangePassword(ctx context.Context, username string, req domain.PasswordChangeRequest) error
	ResetPassword(ctx context.Context, username, newPassword string) error
}

// ReportInvalidator is told whenever committed sales change.
type ReportInvalidator interface {
	Invalidate(ctx context.Context) error
}

type Options struct {
	Segments               domain.SegmentPolicy
	CancelDecrementsVisits bool
	Reports                ReportInvalidator
	Logger                 log.FieldLogger
	Now                    func() time.Time
}

type Service struct {
	repo                   store.Repository
	accounts               Accounts
	segments               domain.SegmentPolicy
	cancelDecrementsVisits bool
	reports                ReportInvalidator
	logger                 log.FieldLogger
	now                    func() time.Time
}

func New(repo store.Repository, accounts Accounts, opts Options) *Service {
	if opts.Segments == (domain.SegmentPolicy{}) {
		opts.Segments = domain.DefaultSegmentPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:                   repo,
		accounts:               accounts,
		segments:               opts.Segments,
		cancelDecrementsVisits: opts.CancelDecrementsVisits,
		reports:                opts.Reports,
		logger:                 opts.Logger.WithField("component", "service"),
		now:                    opts.Now,
	}
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, &domain.AuthError{Reason: "authentication required"}
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, &domain.AuthError{Reason: "admin role required"}
	}
	return actor, nil
}

// txFailure keeps domain errors as they are and turns anything else that
// aborted a transaction into a TransactionError.
func (s *Service) txFailure(op string, err error) error {
	if domain.IsDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.WithError(err).WithField("op", op).Error("transaction rolled back")
	return &domain.TransactionError{Op: op, Err: err}
}

func (s *Service) invalidateReports(ctx context.Context) {
	if s.reports == nil {
		return
	}
	if err := s.reports.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Warn("report cache invalidation failed")
	}
}

func (s *Service) logAudit(ctx context.Context, action, entityType, entityID, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		Actor:      actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.now(),
	}); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"action": action,
			"entity": fmt.Sprintf("%s/%s", entityType, entityID),
		}).Warn("failed to write audit log")
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}
