package account

import "time"

const (
	// RoleParent marks the custodial party that provisions child accounts.
	RoleParent = "parent"
	// RoleChild marks an account managed by a parent.
	RoleChild = "child"
)

// Account represents a local party bound to a remote wallet address. The
// wallet binding is written once at provisioning and read-only afterwards.
type Account struct {
	ID               string
	Name             string
	Role             string
	ParentID         string
	WalletAddressURL string
	CreatedAt        time.Time
}
