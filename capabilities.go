package access

// Capability is a named permission checked by CanAccess.
type Capability = string

const (
	// CapabilityBrowse is catalog visibility, never access-gated
	CapabilityBrowse Capability = "browse"
	// CapabilityAddToCart allows mutating a shopping cart
	CapabilityAddToCart Capability = "add_to_cart"
	// CapabilityCheckout allows placing an order
	CapabilityCheckout Capability = "checkout"
	// CapabilityViewOrders allows reading own order history
	CapabilityViewOrders Capability = "view_orders"
	// CapabilityWholesalePricing exposes wholesale price tiers
	CapabilityWholesalePricing Capability = "wholesale_pricing"
	// CapabilityManageAccounts is the admin capability required to issue
	// approval decisions and deactivations
	CapabilityManageAccounts Capability = "manage_accounts"
)

// DenialReason is the fixed enumeration returned to callers when access is
// denied, so the UI can render an accurate message without leaking internal
// state shape.
type DenialReason = string

const (
	DenialNotAuthenticated DenialReason = "not_authenticated"
	DenialPendingApproval  DenialReason = "pending_approval"
	DenialRejected         DenialReason = "rejected"
	DenialInactive         DenialReason = "inactive"
)

// AllCapabilities returns the predefined capabilities
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityBrowse,
		CapabilityAddToCart,
		CapabilityCheckout,
		CapabilityViewOrders,
		CapabilityWholesalePricing,
		CapabilityManageAccounts,
	}
}

// IsValidCapability checks if the capability is one of the predefined set
func IsValidCapability(c Capability) bool {
	switch c {
	case CapabilityBrowse, CapabilityAddToCart, CapabilityCheckout,
		CapabilityViewOrders, CapabilityWholesalePricing, CapabilityManageAccounts:
		return true
	default:
		return false
	}
}

// CanAccess is the single authorization predicate. It is a pure function of
// the Account snapshot passed in: no store lookups, no cached answers, so
// every decision is reproducible from one record.
//
// Browsing is open to everyone, anonymous callers included. Staff accounts
// bypass every check. Everything else requires an active, approved account;
// wholesale pricing additionally requires the wholesale class.
func CanAccess(account *Account, capability Capability) bool {
	if capability == CapabilityBrowse {
		return true
	}

	if account == nil {
		return false
	}

	if account.IsStaff() {
		return true
	}

	if !account.IsActive || !account.IsApproved() {
		return false
	}

	switch capability {
	case CapabilityAddToCart, CapabilityCheckout, CapabilityViewOrders:
		return true
	case CapabilityWholesalePricing:
		return account.IsWholesale()
	case CapabilityManageAccounts:
		// staff-only, already short-circuited above
		return false
	default:
		return false
	}
}

// DenialFor explains why CanAccess would deny the capability. The boolean is
// false when access would be granted.
func DenialFor(account *Account, capability Capability) (DenialReason, bool) {
	if CanAccess(account, capability) {
		return "", false
	}

	if account == nil {
		return DenialNotAuthenticated, true
	}

	if !account.IsActive {
		return DenialInactive, true
	}

	switch account.ApprovalState {
	case ApprovalPending:
		return DenialPendingApproval, true
	case ApprovalRejected:
		return DenialRejected, true
	default:
		// approved but still denied: wrong class for the capability
		return DenialRejected, true
	}
}
