package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/laborflow/internal/domain/rbac"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-lf"

const testIssuer = "https://keycloak.test/realms/laborflow"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	nB64 := base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
	eB64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())

	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   nB64,
				"e":   eB64,
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestJWTAuth создаёт JWTAuth с тестовым JWKS.
func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}

	return NewJWTAuthWithKeyfunc(kf, testIssuer, "tenant_id", rbac.GroupMapping{
		SuperAdminGroups: []string{"laborflow-super-admins"},
		AdminGroups:      []string{"laborflow-admins"},
		EmployeeGroups:   []string{"laborflow-employees"},
	}, testLogger())
}

// signToken подписывает claims тестовым ключом.
func signToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

// userClaims — claims пользователя компании acme.
func userClaims(sub string, groups []string) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub":                sub,
		"preferred_username": "alice",
		"given_name":         "Alice",
		"family_name":        "Admin",
		"email":              "alice@acme.test",
		"tenant_id":          "acme",
		"iss":                testIssuer,
		"exp":                jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"nbf":                jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		"iat":                jwt.NewNumericDate(time.Now()),
	}
	if len(groups) > 0 {
		claims["groups"] = groups
	}
	return claims
}

// serve выполняет запрос через middleware и возвращает claims из контекста.
func serve(t *testing.T, auth *JWTAuth, token string) (*httptest.ResponseRecorder, *AuthClaims) {
	t.Helper()
	var got *AuthClaims
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workers", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, got
}

// --- Тесты JWT Middleware ---

// TestJWTAuth_ValidToken — валидный JWT пользователя компании.
func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	rec, claims := serve(t, auth, signToken(t, key, userClaims("user-123", []string{"/laborflow-admins"})))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if claims == nil {
		t.Fatal("claims не найдены в контексте")
	}

	caller := claims.Caller()
	if caller.UserID != "user-123" {
		t.Errorf("UserID = %q", caller.UserID)
	}
	if caller.TenantID != "acme" {
		t.Errorf("TenantID = %q, ожидался acme", caller.TenantID)
	}
	if caller.Role != rbac.RoleAdmin {
		t.Errorf("Role = %q, ожидался admin", caller.Role)
	}
	if caller.Name != "Alice Admin" {
		t.Errorf("Name = %q, ожидалось Alice Admin", caller.Name)
	}
}

// TestJWTAuth_TenantAsArray — атрибут компании в виде массива.
func TestJWTAuth_TenantAsArray(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	c := userClaims("user-123", nil)
	c["tenant_id"] = []string{"globex"}
	rec, claims := serve(t, auth, signToken(t, key, c))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	if claims.TenantID != "globex" {
		t.Errorf("TenantID = %q, ожидался globex", claims.TenantID)
	}
}

// TestJWTAuth_AmbiguousTenant — несколько компаний в claim: запрос отклоняется.
func TestJWTAuth_AmbiguousTenant(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	for name, value := range map[string]any{
		"два значения":  []string{"acme", "globex"},
		"пустой массив": []string{},
	} {
		t.Run(name, func(t *testing.T) {
			c := userClaims("user-123", nil)
			c["tenant_id"] = value
			rec, claims := serve(t, auth, signToken(t, key, c))
			if rec.Code != http.StatusForbidden {
				t.Errorf("ожидался статус 403, получен %d", rec.Code)
			}
			if claims != nil {
				t.Error("handler не должен быть вызван")
			}
		})
	}
}

// TestJWTAuth_MissingTenant — токен без компании отклоняется.
func TestJWTAuth_MissingTenant(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	c := userClaims("user-123", nil)
	delete(c, "tenant_id")
	rec, claims := serve(t, auth, signToken(t, key, c))
	if rec.Code != http.StatusForbidden {
		t.Errorf("ожидался статус 403, получен %d", rec.Code)
	}
	if claims != nil {
		t.Error("handler не должен быть вызван")
	}
}

// TestJWTAuth_RoleMapping проверяет вычисление роли.
func TestJWTAuth_RoleMapping(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	tests := []struct {
		name   string
		groups []string
		roles  []string
		want   string
	}{
		{"super_admin побеждает", []string{"laborflow-employees", "laborflow-super-admins"}, nil, rbac.RoleSuperAdmin},
		{"сотрудник", []string{"laborflow-employees"}, nil, rbac.RoleEmployee},
		{"realm-роль без групп", nil, []string{"admin", "default-roles-laborflow"}, rbac.RoleAdmin},
		{"нет совпадений", []string{"other"}, []string{"offline_access"}, rbac.RoleEmployee},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := userClaims("user-1", tt.groups)
			if len(tt.roles) > 0 {
				c["realm_access"] = map[string]any{"roles": tt.roles}
			}
			rec, claims := serve(t, auth, signToken(t, key, c))
			if rec.Code != http.StatusOK {
				t.Fatalf("ожидался статус 200, получен %d", rec.Code)
			}
			if claims.EffectiveRole != tt.want {
				t.Errorf("EffectiveRole = %q, ожидался %q", claims.EffectiveRole, tt.want)
			}
		})
	}
}

// TestJWTAuth_DisplayNameFallback — без имени используется preferred_username.
func TestJWTAuth_DisplayNameFallback(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	c := userClaims("user-1", nil)
	delete(c, "given_name")
	delete(c, "family_name")
	_, claims := serve(t, auth, signToken(t, key, c))
	if claims == nil || claims.Name != "alice" {
		t.Errorf("Name = %v", claims)
	}
}

// TestJWTAuth_Rejected — отсутствующий, просроченный и чужой токен.
func TestJWTAuth_Rejected(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	expired := userClaims("user-1", nil)
	expired["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := userClaims("user-1", nil)
	wrongIssuer["iss"] = "https://other-keycloak.test/realms/other"

	noSub := userClaims("", nil)

	tests := []struct {
		name  string
		token string
	}{
		{"без токена", ""},
		{"мусор", "not-a-jwt"},
		{"просроченный", signToken(t, key, expired)},
		{"чужой issuer", signToken(t, key, wrongIssuer)},
		{"без sub", signToken(t, key, noSub)},
		{"чужой ключ", signToken(t, generateTestKey(t), userClaims("user-1", nil))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, claims := serve(t, auth, tt.token)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
			if claims != nil {
				t.Error("handler не должен быть вызван")
			}
		})
	}
}

// TestJWTAuth_InvalidFormat — заголовок не в формате Bearer.
func TestJWTAuth_InvalidFormat(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workers", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// --- RequireRole ---

func TestRequireRole(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mw := RequireRole(rbac.RoleAdmin, rbac.RoleSuperAdmin)(next)

	tests := []struct {
		name   string
		claims *AuthClaims
		want   int
	}{
		{"admin", &AuthClaims{Subject: "u", TenantID: "acme", EffectiveRole: rbac.RoleAdmin}, http.StatusNoContent},
		{"super_admin", &AuthClaims{Subject: "u", TenantID: "acme", EffectiveRole: rbac.RoleSuperAdmin}, http.StatusNoContent},
		{"employee", &AuthClaims{Subject: "u", TenantID: "acme", EffectiveRole: rbac.RoleEmployee}, http.StatusForbidden},
		{"без claims", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/settings", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.want)
			}
		})
	}
}

// --- Context helpers ---

func TestCallerFromContext(t *testing.T) {
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Error("пустой контекст не должен содержать вызывающего")
	}

	ctx := WithClaims(context.Background(), &AuthClaims{
		Subject: "u-1", TenantID: "acme", EffectiveRole: rbac.RoleEmployee, Name: "Eve",
	})
	caller, ok := CallerFromContext(ctx)
	if !ok {
		t.Fatal("вызывающий не найден")
	}
	want := rbac.Caller{UserID: "u-1", TenantID: "acme", Role: rbac.RoleEmployee, Name: "Eve"}
	if caller != want {
		t.Errorf("Caller = %+v, ожидался %+v", caller, want)
	}
}

// --- KeycloakReadinessChecker ---

func TestKeycloakReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"ok", http.StatusOK, string(jwks), "ok"},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, "degraded"},
		{"не JSON", http.StatusOK, `<html>`, "degraded"},
		{"ошибка", http.StatusInternalServerError, ``, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			checker, err := NewKeycloakReadinessChecker(srv.URL, "", time.Second)
			if err != nil {
				t.Fatalf("NewKeycloakReadinessChecker: %v", err)
			}
			if status, msg := checker.CheckReady(); status != tt.want {
				t.Errorf("status = %q (%s), ожидался %q", status, msg, tt.want)
			}
		})
	}
}
