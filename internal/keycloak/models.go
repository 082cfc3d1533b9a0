// Пакет keycloak — HTTP-клиент к Keycloak Admin REST API
// и каталог пользователей компании.
// models.go — модели данных Keycloak.
package keycloak

import (
	"time"

	"github.com/bigkaa/laborflow/internal/domain/model"
)

// TokenResponse — ответ на запрос токена через Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// KeycloakUser — пользователь в Keycloak (полное представление).
type KeycloakUser struct { //nolint:revive // stuttering допустим — внешний API Keycloak
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Enabled       bool   `json:"enabled"`
	CreatedAt     int64  `json:"createdTimestamp"`
	EmailVerified bool   `json:"emailVerified"`
	// Attributes — пользовательские атрибуты: tenant_id, phone, notify_*.
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// CreatedAtTime возвращает CreatedAt как time.Time.
// Keycloak хранит timestamp в миллисекундах.
func (u *KeycloakUser) CreatedAtTime() time.Time {
	return time.UnixMilli(u.CreatedAt)
}

// Attribute возвращает первое значение атрибута или пустую строку.
func (u *KeycloakUser) Attribute(name string) string {
	if v := u.Attributes[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// ToUser преобразует пользователя Keycloak в доменную модель.
func (u *KeycloakUser) ToUser() model.User {
	return model.User{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Phone:     u.Attribute(AttrPhone),
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

// RealmRepresentation — краткая информация о realm.
type RealmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}
