package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/repository"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionInvalidated = errors.New("session invalidated")
)

// TokenType distinguishes student vs staff tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeStaff   TokenType = "staff"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType  TokenType `json:"token_type"`
	UserID     int       `json:"user_id"`
	RegisterNo string    `json:"register_no,omitempty"` // Student only
}

// AuthService handles authentication, JWT, and the single-device login key.
type AuthService struct {
	cfg      *config.Config
	rdb      *redis.Client
	students StudentStore
	staff    StaffStore
	sessions *SessionService
	now      func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, rdb *redis.Client, students StudentStore, staff StaffStore, sessions *SessionService) *AuthService {
	return &AuthService{
		cfg:      cfg,
		rdb:      rdb,
		students: students,
		staff:    staff,
		sessions: sessions,
		now:      time.Now,
	}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func (s *AuthService) CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// StudentLogin authenticates a student, settles any stale session and issues
// a token. A fresh ACTIVE session rejects the login; a PAUSED one is offered
// for resume.
func (s *AuthService) StudentLogin(ctx context.Context, req *model.StudentLoginRequest) (*model.StudentLoginResponse, error) {
	student, err := s.students.GetByRegisterNo(ctx, req.RegisterNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	if err := s.CheckPassword(student.PasswordHash, req.Password); err != nil {
		return nil, err
	}

	paused, err := s.sessions.PrepareLogin(ctx, student.ID)
	if err != nil {
		return nil, err
	}

	token, err := s.GenerateStudentToken(ctx, student.ID, student.RegisterNo)
	if err != nil {
		return nil, err
	}

	return &model.StudentLoginResponse{
		Token:     token,
		Student:   *student,
		CanResume: paused != nil,
		Session:   paused,
	}, nil
}

// StaffLogin authenticates a staff member and issues a token.
func (s *AuthService) StaffLogin(ctx context.Context, req *model.StaffLoginRequest) (*model.StaffLoginResponse, error) {
	staff, err := s.staff.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get staff: %w", err)
	}
	if err := s.CheckPassword(staff.PasswordHash, req.Password); err != nil {
		return nil, err
	}

	token, err := s.GenerateStaffToken(staff.ID)
	if err != nil {
		return nil, err
	}
	return &model.StaffLoginResponse{Token: token, Staff: *staff}, nil
}

// GenerateStudentToken creates a JWT for a student and records its JTI as the
// student's only valid token. Earlier tokens stop passing
// ValidateStudentSession.
func (s *AuthService) GenerateStudentToken(ctx context.Context, studentID int, registerNo string) (string, error) {
	jti := uuid.New().String()
	signed, err := s.sign(jti, studentID, TokenTypeStudent, registerNo)
	if err != nil {
		return "", err
	}

	sessionKey := config.CacheKey.StudentSessionKey(studentID)
	if err := s.rdb.Set(ctx, sessionKey, jti, s.cfg.JWTExpiry).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return signed, nil
}

// GenerateStaffToken creates a JWT for a staff member.
func (s *AuthService) GenerateStaffToken(staffID int) (string, error) {
	return s.sign(uuid.New().String(), staffID, TokenTypeStaff, "")
}

func (s *AuthService) sign(jti string, userID int, tokenType TokenType, registerNo string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiry)),
		},
		TokenType:  tokenType,
		UserID:     userID,
		RegisterNo: registerNo,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateStudentSession checks that the token's JTI matches the active login in Redis.
func (s *AuthService) ValidateStudentSession(ctx context.Context, studentID int, jti string) error {
	sessionKey := config.CacheKey.StudentSessionKey(studentID)
	stored, err := s.rdb.Get(ctx, sessionKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionInvalidated
		}
		return fmt.Errorf("check session: %w", err)
	}
	if stored != jti {
		return ErrSessionInvalidated
	}
	return nil
}

// ResetStudentSession removes a student's login key, invalidating every token.
func (s *AuthService) ResetStudentSession(ctx context.Context, studentID int) error {
	return s.rdb.Del(ctx, config.CacheKey.StudentSessionKey(studentID)).Err()
}
