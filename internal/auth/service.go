package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"TokenAction-Chain/pkg/logger"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTypeAccess   = "access"
	tokenTypeRefresh  = "refresh"
	grantTypePassword = "password"
	grantTypeRefresh  = "refresh_token"
)

// Service issues and verifies bearer tokens for the HTTP API.
type Service struct {
	mode  Mode
	store Store
	jwt   *jwtManager
	audit *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{mode: mode, store: store, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, errors.New("jwt secret must be configured")
	}
	if svc.store == nil {
		memory, err := NewMemoryStore(cfg.Seeds...)
		if err != nil {
			return nil, err
		}
		svc.store = memory
	}
	if cfg.JWT.AccessTTL <= 0 {
		cfg.JWT.AccessTTL = time.Hour
	}
	if cfg.JWT.RefreshTTL <= 0 {
		cfg.JWT.RefreshTTL = 24 * time.Hour
	}
	svc.jwt = &jwtManager{
		secret:     []byte(cfg.JWT.Secret),
		issuer:     cfg.JWT.Issuer,
		audience:   cfg.JWT.Audience,
		accessTTL:  cfg.JWT.AccessTTL,
		refreshTTL: cfg.JWT.RefreshTTL,
	}
	return svc, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled reports whether requests must carry a token.
func (s *Service) Enabled() bool {
	return s.Mode() != ModeDisabled
}

// Authenticate exchanges credentials or a refresh token for a token pair.
func (s *Service) Authenticate(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	grant := strings.ToLower(strings.TrimSpace(req.GrantType))
	if grant == "" {
		grant = grantTypePassword
	}

	var subject *Subject
	switch grant {
	case grantTypePassword:
		user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(req.Username))
		if err != nil {
			return nil, ErrInvalidCredentials
		}
		if user.Disabled {
			return nil, ErrSubjectRevoked
		}
		if !verifyPassword(user.PasswordHash, req.Password) {
			s.audit.Warn("login_failed", slog.String("user", user.Username))
			return nil, ErrInvalidCredentials
		}
		subject, err = s.loadSubject(ctx, user.ID)
		if err != nil {
			return nil, err
		}
	case grantTypeRefresh:
		claims, err := s.jwt.Verify(req.RefreshToken, tokenTypeRefresh)
		if err != nil {
			return nil, err
		}
		subject, err = s.subjectFromClaims(ctx, claims)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnsupportedGrant
	}

	pair, err := s.jwt.Generate(subject)
	if err != nil {
		return nil, err
	}
	pair.Subject = subject.Clone()
	s.audit.Info("token_issued", slog.String("user", subject.Username), slog.String("grant_type", grant))
	return pair, nil
}

// AuthenticateRequest validates an Authorization header and returns the
// subject it names.
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return nil, ErrMissingToken
	}
	claims, err := s.jwt.Verify(token, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	return s.subjectFromClaims(ctx, claims)
}

func (s *Service) subjectFromClaims(ctx context.Context, claims *tokenClaims) (*Subject, error) {
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return s.loadSubject(ctx, userID)
}

func (s *Service) loadSubject(ctx context.Context, userID int64) (*Subject, error) {
	subject, err := s.store.LoadSubject(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject.normalise()
	return subject, nil
}

type tokenClaims struct {
	Username    string   `json:"username,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"type"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	secret     []byte
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Generate 生成访问令牌和刷新令牌对。
func (m *jwtManager) Generate(subject *Subject) (*TokenPair, error) {
	if subject == nil {
		return nil, errors.New("subject required")
	}
	now := time.Now()
	access, err := m.sign(subject, tokenTypeAccess, now, m.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := m.sign(subject, tokenTypeRefresh, now, m.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		ExpiresIn:        int64(m.accessTTL.Seconds()),
		RefreshToken:     refresh,
		RefreshExpiresIn: int64(m.refreshTTL.Seconds()),
		TokenType:        "Bearer",
	}, nil
}

func (m *jwtManager) sign(subject *Subject, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	claims := tokenClaims{
		Username:  subject.Username,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(subject.ID, 10),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings(m.audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if tokenType == tokenTypeAccess {
		claims.Permissions = append([]string(nil), subject.Permissions...)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses an HS256 token and checks expiry, issuer, audience and type.
func (m *jwtManager) Verify(raw, tokenType string) (*tokenClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMissingToken
	}
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && !claims.VerifyIssuer(m.issuer, true) {
		return nil, ErrInvalidToken
	}
	if len(m.audience) > 0 {
		matched := false
		for _, aud := range m.audience {
			if claims.VerifyAudience(aud, true) {
				matched = true
				break
			}
		}
		if !matched {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func verifyPassword(hashed, password string) bool {
	if hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
