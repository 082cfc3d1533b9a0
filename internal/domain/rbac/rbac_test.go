package rbac

import (
	"testing"

	"github.com/bigkaa/laborflow/internal/domain/model"
)

func testMapping() GroupMapping {
	return GroupMapping{
		SuperAdminGroups: []string{"laborflow-super-admins"},
		AdminGroups:      []string{"laborflow-admins"},
		EmployeeGroups:   []string{"laborflow-employees"},
	}
}

func TestHighestRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  string
	}{
		{"пустой набор", nil, ""},
		{"одна роль", []string{RoleEmployee}, RoleEmployee},
		{"admin выше employee", []string{RoleEmployee, RoleAdmin}, RoleAdmin},
		{"super_admin выше всех", []string{RoleAdmin, RoleSuperAdmin, RoleEmployee}, RoleSuperAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HighestRole(tt.roles); got != tt.want {
				t.Errorf("HighestRole(%v) = %q, хотели %q", tt.roles, got, tt.want)
			}
		})
	}
}

func TestMapGroupsToRole(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		want   string
	}{
		{"нет групп", nil, ""},
		{"посторонняя группа", []string{"marketing"}, ""},
		{"employee", []string{"laborflow-employees"}, RoleEmployee},
		{"admin с ведущим слэшем", []string{"/laborflow-admins"}, RoleAdmin},
		{"admin и employee — admin", []string{"laborflow-employees", "laborflow-admins"}, RoleAdmin},
		{"super_admin", []string{"laborflow-super-admins", "laborflow-admins"}, RoleSuperAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapGroupsToRole(tt.groups, testMapping()); got != tt.want {
				t.Errorf("MapGroupsToRole(%v) = %q, хотели %q", tt.groups, got, tt.want)
			}
		})
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{RoleEmployee, RoleAdmin, RoleSuperAdmin} {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = false", r)
		}
	}
	for _, r := range []string{"", "readonly", "ADMIN"} {
		if IsValidRole(r) {
			t.Errorf("IsValidRole(%q) = true", r)
		}
	}
}

// --- Политика доступа ---

func TestVisibilityScope(t *testing.T) {
	employee := Caller{UserID: "emp-1", TenantID: "t1", Role: RoleEmployee}
	admin := Caller{UserID: "adm-1", TenantID: "t1", Role: RoleAdmin}
	superAdmin := Caller{UserID: "sa-1", TenantID: "t1", Role: RoleSuperAdmin}

	s := VisibilityScope(employee)
	if s.TenantID != "t1" || s.CreatedBy == nil || *s.CreatedBy != "emp-1" {
		t.Errorf("scope employee = %+v, ожидался фильтр по автору", s)
	}
	if s := VisibilityScope(admin); s.CreatedBy != nil {
		t.Error("admin не должен ограничиваться автором")
	}
	if s := VisibilityScope(superAdmin); s.CreatedBy != nil {
		t.Error("super_admin не должен ограничиваться автором")
	}
	if s := VisibilityScope(Caller{UserID: "x", TenantID: "t1"}); s.CreatedBy == nil {
		t.Error("вызывающий без роли должен видеть только свои записи")
	}
}

func TestScope_Allows(t *testing.T) {
	w := &model.Worker{TenantID: "t1", CreatedBy: "emp-f"}

	creator := VisibilityScope(Caller{UserID: "emp-f", TenantID: "t1", Role: RoleEmployee})
	other := VisibilityScope(Caller{UserID: "emp-e", TenantID: "t1", Role: RoleEmployee})
	admin := VisibilityScope(Caller{UserID: "adm", TenantID: "t1", Role: RoleAdmin})
	foreignAdmin := VisibilityScope(Caller{UserID: "adm", TenantID: "t2", Role: RoleAdmin})

	if !creator.Allows(w) {
		t.Error("автор не видит свою запись")
	}
	if other.Allows(w) {
		t.Error("другой employee видит чужую запись")
	}
	if !admin.Allows(w) {
		t.Error("admin не видит запись своей компании")
	}
	if foreignAdmin.Allows(w) {
		t.Error("admin другой компании видит запись")
	}
}

func TestMustMaskPassport(t *testing.T) {
	private := model.CompanySettings{IsPassportPrivate: true}
	public := model.CompanySettings{}

	tests := []struct {
		role     string
		settings model.CompanySettings
		want     bool
	}{
		{RoleEmployee, private, true},
		{RoleEmployee, public, false},
		{RoleAdmin, private, false},
		{RoleSuperAdmin, private, false},
	}
	for _, tt := range tests {
		if got := MustMaskPassport(tt.role, tt.settings); got != tt.want {
			t.Errorf("MustMaskPassport(%q, private=%v) = %v, хотели %v",
				tt.role, tt.settings.IsPassportPrivate, got, tt.want)
		}
	}
}

func TestMaskPassport(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"P1234567", "P12xxxxx"},
		{"AB", "AB"},
		{"ABC", "ABC"},
		{"", ""},
		{"ПАС12345", "ПАСxxxxx"},
	}
	for _, tt := range tests {
		got := MaskPassport(tt.in)
		if got != tt.want {
			t.Errorf("MaskPassport(%q) = %q, хотели %q", tt.in, got, tt.want)
		}
		if len([]rune(got)) != len([]rune(tt.in)) {
			t.Errorf("MaskPassport(%q) изменил длину", tt.in)
		}
		// Идемпотентность
		if again := MaskPassport(got); again != got {
			t.Errorf("повторное маскирование %q дало %q", got, again)
		}
	}
}

func TestApplyMasking_DoesNotTouchStored(t *testing.T) {
	stored := &model.Worker{PassportNumber: "P1234567"}
	private := model.CompanySettings{IsPassportPrivate: true}

	out := ApplyMasking(stored, RoleEmployee, private)
	if out.PassportNumber != "P12xxxxx" {
		t.Errorf("маскированный паспорт = %q", out.PassportNumber)
	}
	if stored.PassportNumber != "P1234567" {
		t.Errorf("хранимое значение изменено: %q", stored.PassportNumber)
	}

	if out := ApplyMasking(stored, RoleAdmin, private); out.PassportNumber != "P1234567" {
		t.Errorf("admin получил маскированный паспорт %q", out.PassportNumber)
	}
}

func TestCanManage(t *testing.T) {
	if CanManageSettings(RoleEmployee) || CanApproveDocuments(RoleEmployee) {
		t.Error("employee получил административные права")
	}
	if !CanManageSettings(RoleAdmin) || !CanApproveDocuments(RoleSuperAdmin) {
		t.Error("admin/super_admin лишены административных прав")
	}
}
