package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/genesisplatform/auth-api/internal/models"
)

// MFAUserRepository is the slice of the user store the MFA service needs.
type MFAUserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	SetTOTPSecret(ctx context.Context, id, secret string) error
	EnableTOTP(ctx context.Context, id string) error
	DisableTOTP(ctx context.Context, id string) error
}

// MFASetupResponse carries everything a client needs to enroll an
// authenticator app. The secret is shown once and never returned again.
type MFASetupResponse struct {
	Secret        string `json:"secret"`
	OTPAuthURL    string `json:"otpauth_url"`
	QRCodeDataURL string `json:"qr_code"`
}

// MFAService manages TOTP enrollment and code validation.
type MFAService struct {
	users  MFAUserRepository
	issuer string
	logger *slog.Logger
}

func NewMFAService(users MFAUserRepository, issuer string, logger *slog.Logger) *MFAService {
	return &MFAService{
		users:  users,
		issuer: issuer,
		logger: logger,
	}
}

// Setup generates a fresh TOTP secret for the user and stores it in a
// pending state. The user must confirm with a valid code via Enable before
// login starts requiring TOTP.
func (s *MFAService) Setup(ctx context.Context, userID string) (*MFASetupResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to load user for MFA setup", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		s.logger.Error("failed to generate TOTP key", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Overwrites any previous pending secret; an already-enabled secret is
	// only replaced after the new one is confirmed via Enable.
	if err := s.users.SetTOTPSecret(ctx, userID, key.Secret()); err != nil {
		s.logger.Error("failed to store TOTP secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		s.logger.Error("failed to build QR code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	qrImage, err := qr.PNG(200)
	if err != nil {
		s.logger.Error("failed to encode QR code", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &MFASetupResponse{
		Secret:        key.Secret(),
		OTPAuthURL:    key.URL(),
		QRCodeDataURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
	}, nil
}

// Enable confirms enrollment: the user proves possession of the secret by
// submitting a current code, after which login requires TOTP.
func (s *MFAService) Enable(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load user for MFA enable", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if user.TOTPSecret == "" {
		return fmt.Errorf("%w: no pending TOTP secret", models.ErrMFACodeInvalid)
	}
	if !s.ValidateCode(user.TOTPSecret, code) {
		return models.ErrMFACodeInvalid
	}

	if err := s.users.EnableTOTP(ctx, userID); err != nil {
		s.logger.Error("failed to enable TOTP", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("TOTP enabled", slog.String("user_id", userID))
	return nil
}

// Disable turns TOTP off. Requires a current valid code so a hijacked
// session cannot silently weaken the account.
func (s *MFAService) Disable(ctx context.Context, userID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to load user for MFA disable", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if !user.TOTPEnabled {
		return nil
	}
	if !s.ValidateCode(user.TOTPSecret, code) {
		return models.ErrMFACodeInvalid
	}

	if err := s.users.DisableTOTP(ctx, userID); err != nil {
		s.logger.Error("failed to disable TOTP", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("TOTP disabled", slog.String("user_id", userID))
	return nil
}

// ValidateCode checks a six-digit code against a base32 secret, allowing
// one 30-second step of clock drift either way.
func (s *MFAService) ValidateCode(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}
