package rbac

// Role names.
const (
	RoleAdmin      = "admin"
	RoleTrainer    = "trainer"
	RoleSupervisor = "supervisor"
	RoleAttendee   = "attendee"
)

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	RoleAttendee: {
		"assessment:view",
		"response:submit",
		"attempt:view-own",
	},
	RoleSupervisor: {
		"assessment:view",
		"assessment:edit",
		"assessment:activate",
		"response:submit",
		"attempt:view-own",
	},
	RoleTrainer: {
		"assessment:*",
		"response:*",
		"attempt:view-all",
	},
	RoleAdmin: {
		"*", // everything
	},
}

// PermEditAny marks administrator/trainer-class roles that may edit any
// assessment regardless of who created it.
const PermEditAny = "assessment:edit-any"

// PermSubmitAny allows recording a submission on behalf of another participant.
const PermSubmitAny = "response:submit-any"

// PermViewAll allows reading every participant's attempts and proofs.
const PermViewAll = "attempt:view-all"

// PermManageUsers allows creating accounts and resetting roles and passwords.
const PermManageUsers = "user:manage"
