package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		role, perm string
		want       bool
	}{
		{"student", PermAttemptStart, true},
		{"student", PermAttemptSubmit, true},
		{"student", PermTestCreate, false},
		{"student", PermSweepRun, false},
		{"teacher", PermTestManageOwn, true},
		{"teacher", PermAttemptStart, false},
		{"teacher", PermLessonManage, false},
		{"admin", PermSweepRun, true},
		{"student", "attempts:start", false},
		{"", PermAttemptStart, false},
		{"ghost", PermTestListOwn, false},
	}
	for _, tc := range cases {
		if got := Allowed(tc.role, tc.perm); got != tc.want {
			t.Errorf("Allowed(%q, %q) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

func TestRequireMiddleware(t *testing.T) {
	h := Require(PermSweepRun)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for role, want := range map[string]int{"admin": 204, "teacher": 403, "": 403} {
		req := httptest.NewRequest(http.MethodPost, "/admin/sweep", nil)
		req = req.WithContext(WithRole(req.Context(), role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("role %q: code %d, want %d", role, rec.Code, want)
		}
	}
}
