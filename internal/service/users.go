package service

import (
	"context"
	"fmt"

	"possale/backend/internal/domain"
)

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.User{}, err
	}
	user, err := s.accounts.CreateUser(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	s.logAudit(ctx, domain.AuditActionUserCreated, "user", user.Username, "role="+user.Role)
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.accounts.ListUsers(ctx)
}

func (s *Service) SetUserActive(ctx context.Context, username string, active bool) (domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.User{}, err
	}
	user, err := s.accounts.SetUserActive(ctx, username, active)
	if err != nil {
		return domain.User{}, err
	}
	s.logAudit(ctx, domain.AuditActionUserStatus, "user", user.Username, fmt.Sprintf("active=%t", active))
	return user, nil
}

func (s *Service) ChangeOwnPassword(ctx context.Context, req domain.PasswordChangeRequest) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	if err := s.accounts.ChangePassword(ctx, actor.Username, req); err != nil {
		return err
	}
	s.logAudit(ctx, domain.AuditActionPasswordChanged, "user", actor.Username, "self-service")
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, username, newPassword string) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.accounts.ResetPassword(ctx, username, newPassword); err != nil {
		return err
	}
	s.logAudit(ctx, domain.AuditActionPasswordChanged, "user", username, "admin reset")
	return nil
}
