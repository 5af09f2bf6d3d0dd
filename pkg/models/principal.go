package models

import "time"

// PrincipalKind discriminates real users from the virtual grant targets.
type PrincipalKind string

const (
	KindOrdinary      PrincipalKind = "ordinary"
	KindAdmin         PrincipalKind = "admin"
	KindSuperAdmin    PrincipalKind = "super_admin"
	KindAllRegistered PrincipalKind = "all_registered"
	KindAnonymous     PrincipalKind = "anonymous"
)

// IsVirtual reports whether the kind names one of the singleton pseudo-users.
func (k PrincipalKind) IsVirtual() bool {
	return k == KindAllRegistered || k == KindAnonymous
}

// IsAdmin reports whether the kind carries administrative full access.
func (k PrincipalKind) IsAdmin() bool {
	return k == KindAdmin || k == KindSuperAdmin
}

// Valid reports whether k is a known kind.
func (k PrincipalKind) Valid() bool {
	switch k {
	case KindOrdinary, KindAdmin, KindSuperAdmin, KindAllRegistered, KindAnonymous:
		return true
	}
	return false
}

// Principal is a user row. Virtual principals are stored here too so they can be
// referenced by grants, but they never act.
type Principal struct {
	ID          int64         `json:"id"`
	DisplayName string        `json:"display_name"`
	Email       string        `json:"email"`
	Kind        PrincipalKind `json:"kind"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Grantee identifies the target of a grant: either a real principal by id or one
// of the virtual principals by kind.
type Grantee struct {
	PrincipalID int64
	Virtual     PrincipalKind
}

// RealGrantee targets a registered principal.
func RealGrantee(id int64) Grantee {
	return Grantee{PrincipalID: id}
}

// VirtualGrantee targets the all-registered or anonymous pseudo-user.
func VirtualGrantee(kind PrincipalKind) Grantee {
	return Grantee{Virtual: kind}
}

// IsVirtual reports whether the grantee still needs resolving to a row id.
func (g Grantee) IsVirtual() bool {
	return g.Virtual != ""
}
