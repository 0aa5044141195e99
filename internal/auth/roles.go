package auth

import "strings"

// 系统角色
const (
	RoleReporter = "reporter" // 上报事故的一线人员
	RoleAnalyst  = "analyst"  // 根因分析执行人
	RoleApprover = "approver" // 审批干系人
	RoleAdmin    = "admin"    // 管理员，可代任何人决审
)

// Actor 当前操作者身份
type Actor struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
}

// IsAdmin 是否管理员
func (a *Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// HasRole 是否拥有指定角色（大小写不敏感）
func (a *Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// SameEmail 是否为同一邮箱（大小写不敏感）
func (a *Actor) SameEmail(email string) bool {
	return strings.EqualFold(a.Email, email)
}
