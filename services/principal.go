package services

import (
	"time"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
)

// Principal is an authenticated diner: the member and its session, loaded
// fresh for the request.
type Principal struct {
	Session models.Session
	Member  models.Member
	Token   string
	Claims  *utils.SessionClaims
}

// AdminPrincipal is an authenticated staff user scoped to one restaurant.
type AdminPrincipal struct {
	StaffID      uint
	RestaurantID uint
	Role         string
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
