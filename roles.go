package auth

// Role is the account's primary role for coarse access control.
type Role string

const (
	// RoleUser is a regular job seeker
	RoleUser Role = "USER"
	// RoleRecruiter can post and manage jobs
	RoleRecruiter Role = "RECRUITER"
	// RoleAdmin has full system access
	RoleAdmin Role = "ADMIN"
	// RoleSuperAdmin administers the system itself
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Authority is a fine-grained permission granted on top of the primary role.
type Authority string

const (
	AuthorityReadUsers   Authority = "READ_USERS"
	AuthorityWriteUsers  Authority = "WRITE_USERS"
	AuthorityDeleteUsers Authority = "DELETE_USERS"

	AuthorityReadJobs    Authority = "READ_JOBS"
	AuthorityWriteJobs   Authority = "WRITE_JOBS"
	AuthorityDeleteJobs  Authority = "DELETE_JOBS"
	AuthorityPublishJobs Authority = "PUBLISH_JOBS"

	AuthorityReadResumes   Authority = "READ_RESUMES"
	AuthorityWriteResumes  Authority = "WRITE_RESUMES"
	AuthorityDeleteResumes Authority = "DELETE_RESUMES"

	AuthoritySystemConfig    Authority = "SYSTEM_CONFIG"
	AuthorityViewAnalytics   Authority = "VIEW_ANALYTICS"
	AuthorityModerateContent Authority = "MODERATE_CONTENT"
)

var roleHierarchy = map[Role]int{
	RoleUser:       0,
	RoleRecruiter:  1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// IsAtLeast checks if this role meets the minimum required level
func (r Role) IsAtLeast(minRole Role) bool {
	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// AllRoles returns all predefined roles in hierarchical order
func AllRoles() []Role {
	return []Role{
		RoleUser,
		RoleRecruiter,
		RoleAdmin,
		RoleSuperAdmin,
	}
}

// ParseRole safely parses a string into a Role type
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}
