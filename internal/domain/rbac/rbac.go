// Пакет rbac — роли пользователей и политика доступа к записям.
// Единственное место, где поведение ветвится по роли: видимость
// записей, маскирование паспорта и права на административные операции.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleEmployee   = "employee"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleEmployee:   1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// GroupMapping — группы IdP, дающие каждую из ролей.
type GroupMapping struct {
	SuperAdminGroups []string
	AdminGroups      []string
	EmployeeGroups   []string
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль пользователя по его группам IdP.
// Возвращает максимальную роль из всех совпадений
// или пустую строку, если ни одна группа не совпала.
func MapGroupsToRole(groups []string, m GroupMapping) string {
	superSet := toSet(m.SuperAdminGroups)
	adminSet := toSet(m.AdminGroups)
	employeeSet := toSet(m.EmployeeGroups)

	var roles []string
	for _, g := range groups {
		if superSet[g] {
			roles = append(roles, RoleSuperAdmin)
		}
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if employeeSet[g] {
			roles = append(roles, RoleEmployee)
		}
	}

	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// toSet конвертирует срез строк в map для быстрого поиска.
// Группы Keycloak приходят с ведущим "/" (полный путь), поэтому
// каждая группа регистрируется в обеих формах.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items)*2)
	for _, item := range items {
		s[item] = true
		if len(item) > 0 && item[0] != '/' {
			s["/"+item] = true
		}
	}
	return s
}
