package service

import "testing"

func TestKeycloakHealthPath(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "JWKS realm",
			url:  "https://kc.example.com/realms/laborflow/protocol/openid-connect/certs",
			want: "/realms/laborflow/protocol/openid-connect/certs",
		},
		{
			name: "без path",
			url:  "http://keycloak:8080",
			want: "/health",
		},
		{
			name: "некорректный URL",
			url:  "://bad",
			want: "/health",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keycloakHealthPath(tt.url); got != tt.want {
				t.Errorf("keycloakHealthPath(%q) = %q, ожидалось %q", tt.url, got, tt.want)
			}
		})
	}
}
