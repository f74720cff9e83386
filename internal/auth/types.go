package auth

import "time"

// ModuleName identifies a navigable application module gated by a grant flag.
type ModuleName string

const (
	ModuleProducts       ModuleName = "products"
	ModuleCustomers      ModuleName = "customers"
	ModuleReports        ModuleName = "reports"
	ModulePaymentMethods ModuleName = "paymentMethods"
	ModuleUserManagement ModuleName = "userManagement"
)

// PresaleGrant holds the fine-grained presales capabilities. Presales access
// is not a single module flag: a user who can create or view own records is
// considered to have access to the module.
type PresaleGrant struct {
	CanCreate  bool `json:"canCreate"`
	CanViewOwn bool `json:"canViewOwn"`
	CanViewAll bool `json:"canViewAll"`
}

// PermissionGrant is the static per-account permission structure. It is a
// pure value: the copy placed into a session must never alias the account's.
type PermissionGrant struct {
	Modules  map[ModuleName]bool `json:"modules"`
	Presales PresaleGrant        `json:"presales"`
}

// Clone returns a deep copy of the grant.
func (g PermissionGrant) Clone() PermissionGrant {
	out := PermissionGrant{Presales: g.Presales}
	if g.Modules != nil {
		out.Modules = make(map[ModuleName]bool, len(g.Modules))
		for k, v := range g.Modules {
			out.Modules[k] = v
		}
	}
	return out
}

// Account is a directory record. The engine treats it as read-only.
type Account struct {
	ID          string
	Name        string
	Email       string // unique, compared case-insensitively
	Secret      string // credential secret, opaque to the engine
	Active      bool
	Permissions PermissionGrant
}

// Principal is the authenticated session payload persisted between calls.
type Principal struct {
	AccountID      string          `json:"accountId"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Permissions    PermissionGrant `json:"permissions"`
	IssuedAt       time.Time       `json:"issuedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt,omitempty"`
}

// LockoutState tracks failed attempts for one normalized identifier.
// FailedAttempts resets to zero when a lockout expires or a login succeeds;
// LockedUntil is set only once the failure threshold is reached.
type LockoutState struct {
	FailedAttempts int        `json:"failedAttempts"`
	LockedUntil    *time.Time `json:"lockedUntil,omitempty"`
}
