package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
	"possale/backend/internal/xid"
)

const issuer = "possale"

var (
	errInvalidCredentials = &domain.AuthError{Reason: "invalid credentials"}
	errInactiveAccount    = &domain.AuthError{Reason: "account is inactive"}
	errIdentityCheck      = &domain.AuthError{Reason: "identity verification failed"}
)

// Manager issues access tokens and owns every credential check. It keeps no
// copy of the user table: each call reads through to the store so that a
// deactivation takes effect on the next request.
type Manager struct {
	secret   []byte
	tokenTTL time.Duration
	users    store.UserStore
	now      func() time.Time
}

type posClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewManager(secret string, tokenTTL time.Duration, users store.UserStore) *Manager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &Manager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	account, err := m.authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := m.now().Add(m.tokenTTL)
	token, err := m.sign(account.Username, account.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (m *Manager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(issuer), jwtlib.WithTimeFunc(m.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (m *Manager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(m.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    issuer,
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// VerifyCredential re-checks a password for an already authenticated user.
// Unknown, inactive and mismatched users all get the same error.
func (m *Manager) VerifyCredential(ctx context.Context, username, password string) error {
	account, err := m.authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return errIdentityCheck
		}
		return err
	}
	if !account.Active {
		return errIdentityCheck
	}
	return nil
}

func (m *Manager) authenticate(ctx context.Context, username, password string) (*domain.UserAccount, error) {
	username = normalizeUsername(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil, errInvalidCredentials
	}
	account, err := m.users.GetUser(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if isLegacyDigest(account.PasswordHash) {
		if !matchLegacyDigest(account.PasswordHash, password) {
			return nil, errInvalidCredentials
		}
		m.upgradeLegacyHash(ctx, account.Username, password)
		return account, nil
	}
	if !verifyPassword(account.PasswordHash, password) {
		return nil, errInvalidCredentials
	}
	return account, nil
}

// upgradeLegacyHash replaces an imported unsalted SHA-256 digest with a bcrypt
// hash once the plain password is known.
func (m *Manager) upgradeLegacyHash(ctx context.Context, username, password string) {
	hashed, err := HashPassword(password)
	if err != nil {
		return
	}
	if err := m.users.UpdateUserPassword(ctx, username, hashed); err != nil {
		log.WithError(err).WithField("username", username).Warn("could not upgrade legacy password hash")
	}
}

func (m *Manager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	username := normalizeUsername(req.Username)
	if len(username) < 3 {
		return domain.User{}, domain.NewValidation("username", "must be at least 3 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, domain.NewValidation("username", "must not contain spaces")
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleOperator
	}
	if role != domain.RoleAdmin && role != domain.RoleOperator {
		return domain.User{}, domain.NewValidation("role", "must be admin or operator")
	}
	if err := checkPassword(req.Password); err != nil {
		return domain.User{}, err
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := m.users.CreateUser(ctx, domain.UserAccount{
		Username:     username,
		FullName:     strings.TrimSpace(req.FullName),
		PasswordHash: hashed,
		Role:         role,
		Active:       true,
		CreatedAt:    m.now(),
	})
	if errors.Is(err, domain.ErrConflict) {
		return domain.User{}, fmt.Errorf("username %s already exists: %w", username, domain.ErrConflict)
	}
	if err != nil {
		return domain.User{}, err
	}
	return created.Public(), nil
}

func (m *Manager) ListUsers(ctx context.Context) ([]domain.User, error) {
	accounts, err := m.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, account.Public())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// SetUserActive toggles a login. The last active admin can never be switched
// off, otherwise nobody could manage the store again.
func (m *Manager) SetUserActive(ctx context.Context, username string, active bool) (domain.User, error) {
	username = normalizeUsername(username)
	account, err := m.users.GetUser(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, domain.NewNotFound("user", username)
	}
	if err != nil {
		return domain.User{}, err
	}

	if !active && account.Active && account.Role == domain.RoleAdmin {
		admins, err := m.users.CountActiveAdmins(ctx)
		if err != nil {
			return domain.User{}, err
		}
		if admins <= 1 {
			return domain.User{}, &domain.StateError{Reason: "cannot deactivate the last active admin"}
		}
	}
	if err := m.users.SetUserActive(ctx, username, active); err != nil {
		return domain.User{}, err
	}
	account.Active = active
	return account.Public(), nil
}

// ChangePassword is the self-service path and needs the current password.
func (m *Manager) ChangePassword(ctx context.Context, username string, req domain.PasswordChangeRequest) error {
	if err := m.VerifyCredential(ctx, username, req.CurrentPassword); err != nil {
		return err
	}
	return m.ResetPassword(ctx, username, req.NewPassword)
}

func (m *Manager) ResetPassword(ctx context.Context, username, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	hashed, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = m.users.UpdateUserPassword(ctx, normalizeUsername(username), hashed)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewNotFound("user", username)
	}
	return err
}

func checkPassword(password string) error {
	if len(password) < 6 {
		return domain.NewValidation("password", "must be at least 6 characters")
	}
	if score, label := PasswordStrength(password); score < StrengthMedium {
		return domain.NewValidation("password", fmt.Sprintf("strength %s is below Medium", label))
	}
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func verifyPassword(stored, input string) bool {
	if stored == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

func isLegacyDigest(value string) bool {
	if len(value) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}

func matchLegacyDigest(stored, input string) bool {
	sum := sha256.Sum256([]byte(input))
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(hex.EncodeToString(sum[:]))) == 1
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
