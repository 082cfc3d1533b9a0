package model

import "time"

// CompanySettings — настройки компании.
// Хранятся в таблице company_settings; отсутствие строки равно значениям по умолчанию.
type CompanySettings struct {
	TenantID string
	// IsPassportPrivate — скрывать номер паспорта от сотрудников
	IsPassportPrivate bool
	UpdatedBy         string
	UpdatedAt         time.Time
}
