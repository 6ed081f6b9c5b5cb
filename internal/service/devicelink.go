package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crowdloc/internal/auth"
	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/domain/repositories"
	"crowdloc/internal/notify"
)

// User-code alphabets exclude the characters people confuse when reading
// a code off one screen and typing it on another (I/L/O, 0/1).
const (
	userCodeLetters = "ABCDEFGHJKMNPQRSTUVWXYZ"
	userCodeDigits  = "23456789"

	// Codes minted before the LLLL-DDDD format were six mixed
	// characters, stored without a dash.
	legacyUserCodeLength = 6
)

// DeviceTokenTTL is the lifetime of the credential minted for a newly
// linked device.
const DeviceTokenTTL = 30 * 24 * time.Hour

// DeviceLinkService pairs an unauthenticated client with a browser
// session: the client displays a short human code, the signed-in user
// types it, and the client's pending stream receives a minted credential.
type DeviceLinkService struct {
	codes  repositories.DeviceCodeRepository
	issuer auth.TokenIssuer
	bus    notify.Bus
	logger *slog.Logger
}

// NewDeviceLinkService creates a new device-link service
func NewDeviceLinkService(
	codes repositories.DeviceCodeRepository,
	issuer auth.TokenIssuer,
	bus notify.Bus,
	logger *slog.Logger,
) *DeviceLinkService {
	return &DeviceLinkService{codes: codes, issuer: issuer, bus: bus, logger: logger}
}

// Generate mints a new pairing: an opaque device code the client keeps
// secret and a human-enterable user code. Expired records are garbage-
// collected opportunistically on each generation.
func (s *DeviceLinkService) Generate(ctx context.Context) (*models.DeviceCode, error) {
	if err := s.codes.DeleteExpired(ctx); err != nil {
		s.logger.Warn("device code GC failed", "error", err)
	}

	deviceCode, err := opaqueCode()
	if err != nil {
		return nil, err
	}

	// Regenerate on the rare collision with a pending code.
	var userCode string
	for attempt := 0; attempt < 5; attempt++ {
		userCode, err = randomUserCode()
		if err != nil {
			return nil, err
		}
		taken, err := s.codes.UserCodeTaken(ctx, userCode)
		if err != nil {
			return nil, err
		}
		if !taken {
			break
		}
		userCode = ""
	}
	if userCode == "" {
		return nil, fmt.Errorf("could not allocate a unique user code")
	}

	code := &models.DeviceCode{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		ExpiresAt:  time.Now().Add(models.DeviceCodeTTL),
	}
	if err := s.codes.Create(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// Authorize attaches the signed-in user to a pending code. The device's
// stream is woken via the counter bump; the minted credential itself is
// produced on the device side so it never transits the browser.
func (s *DeviceLinkService) Authorize(ctx context.Context, userID, rawUserCode string) error {
	userCode, err := NormalizeUserCode(rawUserCode)
	if err != nil {
		return err
	}
	code, err := s.codes.GetByUserCode(ctx, userCode)
	if err != nil {
		return err
	}
	if code.IsAuthorized() {
		return &domain.ConflictError{Message: "code already authorized"}
	}
	if err := s.codes.Authorize(ctx, userCode, userID); err != nil {
		return err
	}

	s.bus.Bump(ctx, notify.DeviceKey(code.DeviceCode))
	s.logger.Info("device authorized", "user_id", userID)
	return nil
}

// LinkedCredential is the terminal payload of a device-link stream.
type LinkedCredential struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Claim checks whether a pending device code has been authorized and, if
// so, mints the device's credential and deletes the record so the code
// is single-use. Returns (nil, nil) while the code is still pending.
func (s *DeviceLinkService) Claim(ctx context.Context, deviceCode string) (*LinkedCredential, error) {
	code, err := s.codes.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, err
	}
	if !code.IsAuthorized() {
		return nil, nil
	}

	token, err := s.issuer.IssueAccessToken(*code.UserID, DeviceTokenTTL)
	if err != nil {
		return nil, err
	}
	if err := s.codes.Delete(ctx, deviceCode); err != nil {
		return nil, err
	}

	cred := &LinkedCredential{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(DeviceTokenTTL.Seconds()),
	}
	if payload, err := json.Marshal(cred); err == nil {
		// Recovery slot for a stream that reconnects right after authorization.
		s.bus.SetResult(ctx, notify.DeviceKey(deviceCode), payload)
	}
	return cred, nil
}

// NormalizeUserCode canonicalizes a typed user code: whitespace and
// dashes stripped, uppercased, then re-joined as LLLL-DDDD. Six-char
// codes from the earlier pairing scheme are still accepted and returned
// undashed, since that is how they were stored. Codes with any other
// shape are rejected before any lookup.
func NormalizeUserCode(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r == '-' || r == ' ' || r == '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}
	code := strings.ToUpper(b.String())
	switch len(code) {
	case 8:
		for i, r := range code {
			if i < 4 {
				if !strings.ContainsRune(userCodeLetters, r) {
					return "", &domain.ValidationError{Message: "code must be 4 letters followed by 4 digits"}
				}
			} else if !strings.ContainsRune(userCodeDigits, r) {
				return "", &domain.ValidationError{Message: "code must be 4 letters followed by 4 digits"}
			}
		}
		return code[:4] + "-" + code[4:], nil
	case legacyUserCodeLength:
		for _, r := range code {
			if !strings.ContainsRune(userCodeLetters, r) && !strings.ContainsRune(userCodeDigits, r) {
				return "", &domain.ValidationError{Message: "code must be 4 letters followed by 4 digits"}
			}
		}
		return code, nil
	default:
		return "", &domain.ValidationError{Message: "code must be 4 letters followed by 4 digits"}
	}
}

// opaqueCode returns a 64-hex-char random device code.
func opaqueCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate device code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// randomUserCode draws LLLL-DDDD from the confusable-free alphabets.
func randomUserCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate user code: %w", err)
	}
	out := make([]byte, 0, 9)
	for i := 0; i < 4; i++ {
		out = append(out, userCodeLetters[int(buf[i])%len(userCodeLetters)])
	}
	out = append(out, '-')
	for i := 4; i < 8; i++ {
		out = append(out, userCodeDigits[int(buf[i])%len(userCodeDigits)])
	}
	return string(out), nil
}
