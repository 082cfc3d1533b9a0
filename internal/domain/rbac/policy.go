// policy.go — политика доступа к записям работников.
package rbac

import "github.com/bigkaa/laborflow/internal/domain/model"

// MaskRune — символ, которым заменяются скрытые символы паспорта.
const MaskRune = 'x'

// visiblePrefix — число открытых символов в начале номера паспорта.
const visiblePrefix = 3

// Caller — аутентифицированный пользователь, выполняющий операцию.
type Caller struct {
	// UserID — sub из JWT
	UserID string
	// TenantID — компания пользователя
	TenantID string
	// Role — эффективная роль (employee, admin, super_admin)
	Role string
	// Name — отображаемое имя для текстов уведомлений
	Name string
}

// Scope — предикат видимости записей для вызывающего.
// Применяется в SQL при каждом чтении и изменении.
type Scope struct {
	TenantID string
	// CreatedBy — если задан, видны только записи этого автора
	CreatedBy *string
}

// VisibilityScope строит предикат видимости: всегда своя компания,
// для employee — дополнительно только собственные записи.
func VisibilityScope(c Caller) Scope {
	s := Scope{TenantID: c.TenantID}
	if c.Role == RoleEmployee || !IsValidRole(c.Role) {
		uid := c.UserID
		s.CreatedBy = &uid
	}
	return s
}

// Allows проверяет запись на соответствие предикату.
// Используется хранилищами без SQL (тесты, кэш).
func (s Scope) Allows(w *model.Worker) bool {
	if w == nil || w.TenantID != s.TenantID {
		return false
	}
	if s.CreatedBy != nil && w.CreatedBy != *s.CreatedBy {
		return false
	}
	return true
}

// MustMaskPassport сообщает, нужно ли скрывать номер паспорта:
// только если компания включила приватность и вызывающий — employee.
func MustMaskPassport(role string, settings model.CompanySettings) bool {
	return settings.IsPassportPrivate && role == RoleEmployee
}

// MaskPassport оставляет первые три символа и заменяет остальные на MaskRune,
// сохраняя длину. Повторное применение не меняет результат.
func MaskPassport(passport string) string {
	runes := []rune(passport)
	for i := visiblePrefix; i < len(runes); i++ {
		runes[i] = MaskRune
	}
	return string(runes)
}

// ApplyMasking возвращает копию работника для ответа вызывающему.
// Хранимая запись не изменяется.
func ApplyMasking(w *model.Worker, role string, settings model.CompanySettings) *model.Worker {
	out := w.Clone()
	if MustMaskPassport(role, settings) {
		out.PassportNumber = MaskPassport(out.PassportNumber)
	}
	return out
}

// CanManageSettings — изменение настроек компании.
func CanManageSettings(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// CanApproveDocuments — подтверждение документов работника.
func CanApproveDocuments(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}
