package auth

import "github.com/garageworks/autoshop/internal/models"

// Decision is the result of a capability check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the positive decision.
var Allow = Decision{Allowed: true}

// Deny returns a negative decision with a reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// CanWriteCatalog gates product/repair create, update and deactivate.
// Reads are open to any authenticated principal.
func CanWriteCatalog(p Principal) Decision {
	if p.Admin {
		return Allow
	}
	return Deny("catalog writes require admin")
}

// CanViewRequest gates single-request reads: owner or admin.
func CanViewRequest(p Principal, r *models.ServiceRequest) Decision {
	if p.Admin || r.UserID == p.UserID {
		return Allow
	}
	return Deny("request belongs to another user")
}

// CanEditRequest gates owner-editable updates: owner or admin, any status.
func CanEditRequest(p Principal, r *models.ServiceRequest) Decision {
	if p.Admin || r.UserID == p.UserID {
		return Allow
	}
	return Deny("request belongs to another user")
}

// CanTransitionRequest gates status/payment transitions: admin only,
// ownership does not matter.
func CanTransitionRequest(p Principal) Decision {
	if p.Admin {
		return Allow
	}
	return Deny("status transitions require admin")
}

// CanViewAdminDashboard gates the store-wide dashboard.
func CanViewAdminDashboard(p Principal) Decision {
	if p.Admin {
		return Allow
	}
	return Deny("admin dashboard requires admin")
}
