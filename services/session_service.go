package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

const joinAttempts = 5

var nicknamePool = []string{
	"Otter", "Penguin", "Koala", "Panda", "Fox", "Owl", "Dolphin", "Tiger",
	"Rabbit", "Hedgehog", "Falcon", "Lynx", "Seal", "Beaver", "Heron",
	"Badger", "Moose", "Gecko", "Ibis", "Yak",
}

type SessionService struct {
	DB            *gorm.DB
	QR            utils.QRSigner
	Tokens        *utils.TokenIssuer
	Notify        Notifier
	TokenTTL      time.Duration
	RefreshWindow time.Duration
	Now           func() time.Time
}

type JoinRequest struct {
	TablePID string
	Token    string
	DeviceID string
}

type JoinResult struct {
	SessionPID       string    `json:"session_pid"`
	MemberPID        string    `json:"member_pid"`
	Nickname         string    `json:"nickname"`
	IsHost           bool      `json:"is_host"`
	WSToken          string    `json:"ws_token"`
	ExpiresAt        time.Time `json:"expires_at"`
	RestaurantName   string    `json:"restaurant_name"`
	TableNumber      string    `json:"table_number"`
	SessionValidated bool      `json:"session_validated"`
}

func (s *SessionService) now() time.Time { return clock(s.Now).now() }

// Join handles a QR scan: it finds or creates the table's active session and
// the device's member, then mints a session token. Broadcasts happen only
// after the transaction commits.
func (s *SessionService) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.TablePID == "" || req.Token == "" || req.DeviceID == "" {
		return nil, errValidation(CodeInvalidRequest, "table_pid, token and device_id are required")
	}
	if len(req.DeviceID) > 128 {
		return nil, errValidation(CodeInvalidRequest, "device_id is too long")
	}

	db := s.DB.WithContext(ctx)

	var table models.Table
	if err := db.Where("pid = ?", req.TablePID).First(&table).Error; err != nil {
		if isNotFound(err) {
			return nil, errNotFound(CodeTableNotFound, "table not found")
		}
		return nil, err
	}
	if !s.QR.VerifyQRToken(table.RestaurantID, table.ID, req.Token) {
		return nil, errForbidden(CodeQRMismatch, "QR token does not match this table")
	}

	var restaurant models.Restaurant
	if err := db.First(&restaurant, table.RestaurantID).Error; err != nil {
		return nil, err
	}
	now := s.now()
	if !restaurant.IsOpenAt(now) {
		return nil, errLocked(CodeRestaurantClosed, "restaurant is closed")
	}
	if table.Status != models.TableStatusOpen {
		return nil, errLocked(CodeTableUnavailable, fmt.Sprintf("table is %s", table.Status))
	}

	var (
		session        models.Session
		member         models.Member
		createdSession bool
	)
	err := withRetryOnDuplicate(joinAttempts, func() error {
		createdSession = false
		return db.Transaction(func(tx *gorm.DB) error {
			found, err := activeSessionForTable(tx, table.ID)
			if err != nil {
				return err
			}
			if found == nil {
				tableID := table.ID
				session = models.Session{
					PID:            uuid.NewString(),
					RestaurantID:   table.RestaurantID,
					TableID:        table.ID,
					ActiveTableID:  &tableID,
					State:          models.SessionStateActive,
					Validated:      !restaurant.RequireDailyPass,
					LastActivityAt: now,
				}
				if err := tx.Create(&session).Error; err != nil {
					return err
				}
				createdSession = true
			} else {
				session = *found
			}

			m, err := s.upsertMember(tx, session.ID, req.DeviceID, now)
			if err != nil {
				return err
			}
			member = *m
			return touchSession(tx, session.ID, now)
		})
	})
	if err != nil {
		return nil, err
	}

	token, exp, err := s.Tokens.EncodeSessionToken(member.PID, session.PID, req.DeviceID, s.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"session": session.PID,
		"member":  member.PID,
		"table":   table.TableNumber,
		"new":     createdSession,
	}).Info("member joined session")

	s.Notify.diner(session.PID, hub.EventMemberJoin, member)
	if createdSession {
		if view, err := tableView(s.DB, table); err == nil {
			s.Notify.admin(table.RestaurantID, hub.EventTableUpdate, view)
		}
	}

	return &JoinResult{
		SessionPID:       session.PID,
		MemberPID:        member.PID,
		Nickname:         member.Nickname,
		IsHost:           member.IsHost,
		WSToken:          token,
		ExpiresAt:        exp,
		RestaurantName:   restaurant.Name,
		TableNumber:      table.TableNumber,
		SessionValidated: session.Validated,
	}, nil
}

// upsertMember reactivates the device's member or creates it. The first
// member of a session becomes host.
func (s *SessionService) upsertMember(tx *gorm.DB, sessionID uint, deviceID string, now time.Time) (*models.Member, error) {
	var member models.Member
	err := tx.Where("session_id = ? AND device_id = ?", sessionID, deviceID).First(&member).Error
	if err == nil {
		if err := tx.Model(&member).Updates(map[string]interface{}{"is_active": true, "last_seen_at": now}).Error; err != nil {
			return nil, err
		}
		member.IsActive = true
		member.LastSeenAt = &now
		return &member, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	var existing []models.Member
	if err := tx.Where("session_id = ?", sessionID).Find(&existing).Error; err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, m := range existing {
		taken[m.Nickname] = true
	}

	member = models.Member{
		PID:        uuid.NewString(),
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Nickname:   pickNickname(taken),
		IsHost:     len(existing) == 0,
		IsActive:   true,
		LastSeenAt: &now,
	}
	if member.IsHost {
		member.HostSessionID = &sessionID
	}
	if err := tx.Create(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func pickNickname(taken map[string]bool) string {
	for round := 1; ; round++ {
		for _, name := range nicknamePool {
			candidate := name
			if round > 1 {
				candidate = fmt.Sprintf("%s %d", name, round)
			}
			if !taken[candidate] {
				return candidate
			}
		}
	}
}

// Authenticate resolves a session token to a live principal. The session
// must still be active and the member must belong to it.
func (s *SessionService) Authenticate(ctx context.Context, raw string) (*Principal, error) {
	claims := s.Tokens.DecodeSessionToken(raw)
	if claims == nil {
		return nil, errAuth(CodeInvalidToken, "invalid or expired token")
	}

	db := s.DB.WithContext(ctx)
	var session models.Session
	if err := db.Where("pid = ?", claims.SessionPID).First(&session).Error; err != nil {
		if isNotFound(err) {
			return nil, errAuth(CodeInvalidToken, "unknown session")
		}
		return nil, err
	}
	var member models.Member
	if err := db.Where("pid = ? AND session_id = ?", claims.Subject, session.ID).First(&member).Error; err != nil {
		if isNotFound(err) {
			return nil, errAuth(CodeInvalidToken, "unknown member")
		}
		return nil, err
	}
	if member.DeviceID != claims.DeviceID {
		return nil, errAuth(CodeInvalidToken, "token was issued to another device")
	}
	if !session.IsActive() {
		return nil, errGone(CodeSessionClosed, "session is no longer active")
	}
	return &Principal{Session: session, Member: member, Token: raw, Claims: claims}, nil
}

// RefreshToken re-mints a token that is close to expiry.
func (s *SessionService) RefreshToken(p *Principal) (string, time.Time, error) {
	if !s.Tokens.IsNearExpiry(p.Token, s.RefreshWindow) {
		return "", time.Time{}, errConflict(CodeNotNearExpiry, "token is not near expiry", nil)
	}
	token, exp, err := s.Tokens.EncodeSessionToken(p.Member.PID, p.Session.PID, p.Member.DeviceID, s.TokenTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return token, exp, nil
}

// UpdateNickname renames the caller. Members may only rename themselves.
func (s *SessionService) UpdateNickname(ctx context.Context, p *Principal, memberPID, nickname string) (*models.Member, error) {
	if memberPID != p.Member.PID {
		return nil, errForbidden(CodeNotOwner, "members may only rename themselves")
	}
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || len([]rune(nickname)) > 32 {
		return nil, errValidation(CodeInvalidRequest, "nickname must be 1-32 characters")
	}

	member := p.Member
	if err := s.DB.WithContext(ctx).Model(&member).Update("nickname", nickname).Error; err != nil {
		return nil, err
	}
	member.Nickname = nickname
	s.Notify.diner(p.Session.PID, hub.EventMemberUpdate, member)
	return &member, nil
}

// ValidatePass unlocks a session with the restaurant's daily password.
func (s *SessionService) ValidatePass(ctx context.Context, p *Principal, sessionPID, word string) error {
	if sessionPID != "" && sessionPID != p.Session.PID {
		return errForbidden(CodeNotOwner, "token does not belong to this session")
	}
	if p.Session.Validated {
		return nil
	}

	db := s.DB.WithContext(ctx)
	var restaurant models.Restaurant
	if err := db.First(&restaurant, p.Session.RestaurantID).Error; err != nil {
		return err
	}
	if restaurant.RequireDailyPass && !utils.VerifyPassword(restaurant.DailyPassHash, strings.TrimSpace(word)) {
		return errForbidden(CodeInvalidPass, "incorrect daily password")
	}

	if err := db.Model(&models.Session{}).Where("id = ?", p.Session.ID).Update("validated", true).Error; err != nil {
		return err
	}
	p.Session.Validated = true
	s.Notify.diner(p.Session.PID, hub.EventMemberUpdate, map[string]interface{}{
		"session_pid":       p.Session.PID,
		"session_validated": true,
		"validated_by":      p.Member.PID,
	})
	return nil
}

// CloseByHost ends the session on the host's request.
func (s *SessionService) CloseByHost(ctx context.Context, p *Principal) error {
	if !p.Member.IsHost {
		return errForbidden(CodeNotHost, "only the host can close the session")
	}
	now := s.now()
	session := p.Session
	if err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return endSession(tx, &session, models.SessionStateClosed, now)
	}); err != nil {
		return err
	}

	utils.InfoLogger.WithFields(logrus.Fields{"session": session.PID, "member": p.Member.PID}).Info("session closed by host")
	s.Notify.closeSession(session.PID, "closed_by_host")
	s.notifyTable(session.TableID)
	return nil
}

// Members lists every member of the session, inactive ones included.
func (s *SessionService) Members(ctx context.Context, sessionID uint) ([]models.Member, error) {
	var members []models.Member
	err := s.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&members).Error
	return members, err
}

// Presence records that a member's first socket opened or last socket
// closed and tells the table.
func (s *SessionService) Presence(ctx context.Context, p *Principal, online bool) {
	s.MarkSeen(ctx, p.Member.ID)
	s.Notify.diner(p.Session.PID, hub.EventMemberPresence, map[string]interface{}{
		"member_pid": p.Member.PID,
		"nickname":   p.Member.Nickname,
		"online":     online,
	})
}

// MarkSeen records device presence.
func (s *SessionService) MarkSeen(ctx context.Context, memberID uint) {
	now := s.now()
	if err := s.DB.WithContext(ctx).Model(&models.Member{}).Where("id = ?", memberID).Update("last_seen_at", now).Error; err != nil {
		utils.ErrorLogger.WithError(err).WithField("member_id", memberID).Warn("update last_seen_at")
	}
}

// Chat relays a chat line to the session. Messages are not persisted.
func (s *SessionService) Chat(p *Principal, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || len([]rune(text)) > 500 {
		return errValidation(CodeInvalidRequest, "message must be 1-500 characters")
	}
	s.Notify.diner(p.Session.PID, hub.EventChatMessage, map[string]interface{}{
		"member_pid": p.Member.PID,
		"nickname":   p.Member.Nickname,
		"text":       text,
		"sent_at":    s.now(),
	})
	return nil
}

func (s *SessionService) notifyTable(tableID uint) {
	var table models.Table
	if err := s.DB.First(&table, tableID).Error; err != nil {
		return
	}
	if view, err := tableView(s.DB, table); err == nil {
		s.Notify.admin(table.RestaurantID, hub.EventTableUpdate, view)
	}
}
