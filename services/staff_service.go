package services

import (
	"context"
	"strings"
	"time"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

// StaffService authenticates staff and manages restaurant-level settings.
type StaffService struct {
	DB         *gorm.DB
	Tokens     *utils.TokenIssuer
	TokenTTL   time.Duration
	BcryptCost int
	Now        func() time.Time
}

type LoginResult struct {
	Token string           `json:"token"`
	Staff models.StaffUser `json:"staff"`
}

func (s *StaffService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var staff models.StaffUser
	err := s.DB.WithContext(ctx).Where("email = ?", email).First(&staff).Error
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if err != nil || !utils.VerifyPassword(staff.Password, password) {
		return nil, errAuth(CodeInvalidCredentials, "invalid email or password")
	}

	token, err := s.Tokens.EncodeAdminToken(staff.ID, staff.RestaurantID, staff.Role, s.TokenTTL)
	if err != nil {
		return nil, err
	}
	utils.InfoLogger.WithField("staff", staff.ID).Info("staff logged in")
	return &LoginResult{Token: token, Staff: staff}, nil
}

// SetDailyPass stores a new daily password and turns the requirement on.
// Sessions already validated stay validated.
func (s *StaffService) SetDailyPass(ctx context.Context, admin *AdminPrincipal, word string) error {
	word = strings.TrimSpace(word)
	if len(word) < 3 || len(word) > 64 {
		return errValidation(CodeInvalidRequest, "daily password must be 3-64 characters")
	}
	hash, err := utils.HashPassword(word, s.BcryptCost)
	if err != nil {
		return err
	}
	now := clock(s.Now).now()
	return s.DB.WithContext(ctx).Model(&models.Restaurant{}).Where("id = ?", admin.RestaurantID).
		Updates(map[string]interface{}{
			"daily_pass_hash":    hash,
			"daily_pass_set_at":  now,
			"require_daily_pass": true,
		}).Error
}
