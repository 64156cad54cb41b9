package perm

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gshare/internal/auth"
)

type Level string

const (
	LevelPublic  Level = "public"
	LevelVisitor Level = "visitor"
	LevelFriend  Level = "friend"
	LevelCustom  Level = "custom"
)

const (
	RoleAnonymous = "anonymous"
	RoleVisitor   = "visitor"
	RoleFriend    = "friend"
	RoleAdmin     = "admin"
)

// Reasons reported in Decision.Reason.
const (
	ReasonOwner            = "owner"
	ReasonAdmin            = "admin"
	ReasonPublic           = "public"
	ReasonRole             = "role"
	ReasonAllowUser        = "allow-user"
	ReasonAllowRole        = "allow-role"
	ReasonDenyUser         = "deny-user"
	ReasonDenyRole         = "deny-role"
	ReasonAnonymous        = "anonymous"
	ReasonPassword         = "password"
	ReasonExpired          = "expired"
	ReasonViewLimit        = "view-limit"
	ReasonPasswordRequired = "password-required"
	ReasonPasswordInvalid  = "password-invalid"
	ReasonInsufficientRole = "insufficient-role"
	ReasonNotListed        = "not-listed"
)

var ErrInvalidAccess = errors.New("invalid access")

type Access struct {
	Level          Level     `yaml:"level" json:"level"`
	AllowUsers     []string  `yaml:"allow_users,omitempty" json:"allow_users,omitempty"`
	DenyUsers      []string  `yaml:"deny_users,omitempty" json:"deny_users,omitempty"`
	AllowRoles     []string  `yaml:"allow_roles,omitempty" json:"allow_roles,omitempty"`
	DenyRoles      []string  `yaml:"deny_roles,omitempty" json:"deny_roles,omitempty"`
	AllowAnonymous bool      `yaml:"allow_anonymous,omitempty" json:"allow_anonymous,omitempty"`
	PasswordHash   string    `yaml:"password_hash,omitempty" json:"-"`
	ExpiresAt      time.Time `yaml:"expires_at,omitempty" json:"expires_at,omitempty"`
	MaxViews       int       `yaml:"max_views,omitempty" json:"max_views,omitempty"`
}

type Viewer struct {
	Name     string
	Roles    []string
	Password string
}

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

func Anonymous() Viewer {
	return Viewer{}
}

func (v Viewer) IsAnonymous() bool {
	return strings.TrimSpace(v.Name) == ""
}

// HasRole matches role names case-insensitively.
func (v Viewer) HasRole(role string) bool {
	want := normRole(role)
	return slices.ContainsFunc(v.Roles, func(r string) bool { return normRole(r) == want })
}

func normRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// Tier is the highest role tier held by the viewer.
func (v Viewer) Tier() int {
	if v.IsAnonymous() {
		return 0
	}
	tier := 1
	for _, role := range v.Roles {
		if t := roleTier(role); t > tier {
			tier = t
		}
	}
	return tier
}

func roleTier(role string) int {
	switch normRole(role) {
	case RoleAdmin:
		return 3
	case RoleFriend:
		return 2
	case RoleVisitor:
		return 1
	default:
		return 0
	}
}

func ParseLevel(value string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(value))) {
	case LevelPublic:
		return LevelPublic
	case LevelVisitor:
		return LevelVisitor
	case LevelFriend:
		return LevelFriend
	case LevelCustom:
		return LevelCustom
	default:
		return LevelFriend
	}
}

func IsLevel(value string) bool {
	switch Level(strings.ToLower(strings.TrimSpace(value))) {
	case LevelPublic, LevelVisitor, LevelFriend, LevelCustom:
		return true
	default:
		return false
	}
}

// Normalize returns a copy with a canonical level, trimmed lists, and custom-only
// fields cleared for non-custom levels.
func (a Access) Normalize() Access {
	out := Access{Level: ParseLevel(string(a.Level))}
	if out.Level != LevelCustom {
		return out
	}
	out.AllowUsers = cleanList(a.AllowUsers, false)
	out.DenyUsers = cleanList(a.DenyUsers, false)
	out.AllowRoles = cleanList(a.AllowRoles, true)
	out.DenyRoles = cleanList(a.DenyRoles, true)
	out.AllowAnonymous = a.AllowAnonymous
	out.PasswordHash = strings.TrimSpace(a.PasswordHash)
	out.ExpiresAt = a.ExpiresAt
	out.MaxViews = a.MaxViews
	return out
}

func (a Access) Validate() error {
	if a.MaxViews < 0 {
		return fmt.Errorf("%w: max views must not be negative", ErrInvalidAccess)
	}
	for _, user := range a.AllowUsers {
		if slices.Contains(a.DenyUsers, user) {
			return fmt.Errorf("%w: user %q is both allowed and denied", ErrInvalidAccess, user)
		}
	}
	for _, role := range a.AllowRoles {
		if slices.Contains(a.DenyRoles, role) {
			return fmt.Errorf("%w: role %q is both allowed and denied", ErrInvalidAccess, role)
		}
	}
	if a.PasswordHash != "" {
		if _, err := auth.ParseArgon2idHash(a.PasswordHash); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAccess, err)
		}
	}
	return nil
}

func cleanList(values []string, lower bool) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate decides whether viewer may see content owned by owner. views is the
// number of views already recorded for the content.
func Evaluate(access Access, owner string, viewer Viewer, views int, now time.Time) Decision {
	owner = strings.TrimSpace(owner)
	if !viewer.IsAnonymous() && owner != "" && viewer.Name == owner {
		return allow(ReasonOwner)
	}
	if !viewer.IsAnonymous() && viewer.HasRole(RoleAdmin) {
		return allow(ReasonAdmin)
	}

	access = access.Normalize()
	switch access.Level {
	case LevelPublic:
		return allow(ReasonPublic)
	case LevelVisitor:
		if viewer.Tier() >= 1 {
			return allow(ReasonRole)
		}
		return deny(ReasonInsufficientRole)
	case LevelFriend:
		if viewer.Tier() >= 2 {
			return allow(ReasonRole)
		}
		return deny(ReasonInsufficientRole)
	}
	return evaluateCustom(access, viewer, views, now)
}

func evaluateCustom(access Access, viewer Viewer, views int, now time.Time) Decision {
	if !access.ExpiresAt.IsZero() && !now.Before(access.ExpiresAt) {
		return deny(ReasonExpired)
	}
	if access.MaxViews > 0 && views >= access.MaxViews {
		return deny(ReasonViewLimit)
	}
	if !viewer.IsAnonymous() && slices.Contains(access.DenyUsers, viewer.Name) {
		return deny(ReasonDenyUser)
	}
	for _, role := range viewer.Roles {
		if slices.Contains(access.DenyRoles, normRole(role)) {
			return deny(ReasonDenyRole)
		}
	}

	passwordOK := false
	if access.PasswordHash != "" {
		if viewer.Password == "" {
			return deny(ReasonPasswordRequired)
		}
		if !auth.VerifyPHC(access.PasswordHash, viewer.Password) {
			return deny(ReasonPasswordInvalid)
		}
		passwordOK = true
	}

	if viewer.IsAnonymous() {
		if access.AllowAnonymous {
			return allow(ReasonAnonymous)
		}
		if passwordOK {
			return allow(ReasonPassword)
		}
		return deny(ReasonNotListed)
	}

	if slices.Contains(access.AllowUsers, viewer.Name) {
		return allow(ReasonAllowUser)
	}
	for _, role := range viewer.Roles {
		if slices.Contains(access.AllowRoles, normRole(role)) {
			return allow(ReasonAllowRole)
		}
	}
	if len(access.AllowUsers) == 0 && len(access.AllowRoles) == 0 {
		if passwordOK {
			return allow(ReasonPassword)
		}
		return allow(ReasonRole)
	}
	return deny(ReasonNotListed)
}

// CanEdit reports whether viewer may modify or delete content owned by owner.
func CanEdit(owner string, viewer Viewer) bool {
	if viewer.IsAnonymous() {
		return false
	}
	return viewer.Name == strings.TrimSpace(owner) || viewer.HasRole(RoleAdmin)
}
