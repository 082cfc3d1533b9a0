package model

import "strings"

// User — пользователь из справочника IdP.
// Не хранится в БД — формируется из данных Keycloak.
type User struct {
	// ID — Keycloak user ID (sub)
	ID        string
	Username  string
	Email     string
	Phone     string
	FirstName string
	LastName  string
}

// DisplayName возвращает имя для текстов уведомлений.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Username
}
