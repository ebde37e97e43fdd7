package rbac

import "strings"

// Permissions checked by the HTTP layer.
const (
	PermLessonManage  = "lesson:manage"
	PermUsersBulk     = "users:bulk_upsert"
	PermUsersList     = "users:list"
	PermTestCreate    = "test:create"
	PermTestManageOwn = "test:manage_own" // pool edits, delete, results
	PermGradesLesson  = "grades:view_lesson"
	PermGradesOwn     = "grades:view_own"
	PermTestListOwn   = "test:list_own"
	PermAttemptStart  = "attempt:start"
	PermAttemptView   = "attempt:view_own"
	PermAttemptSubmit = "attempt:submit"
	PermAttemptReview = "attempt:review_own"
	PermSweepRun      = "sweep:run"
)

// RolePermissions is the exam policy. A trailing "*" grants every permission
// under that prefix; a bare "*" grants everything.
var RolePermissions = map[string][]string{
	"student": {
		PermTestListOwn,
		PermGradesOwn,
		"attempt:*",
	},
	"teacher": {
		PermTestCreate,
		PermTestManageOwn,
		PermGradesLesson,
		PermUsersList,
	},
	"admin": {"*"},
}

// Allowed reports whether role holds perm. Unknown roles hold nothing.
func Allowed(role, perm string) bool {
	for _, p := range RolePermissions[role] {
		if p == perm {
			return true
		}
		if prefix, ok := strings.CutSuffix(p, "*"); ok && strings.HasPrefix(perm, prefix) {
			return true
		}
	}
	return false
}
