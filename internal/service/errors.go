// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/laborflow/internal/repository"
)

var (
	// ErrValidation — некорректные или неполные входные данные.
	ErrValidation = errors.New("ошибка валидации")
	// ErrConflict — дублирующийся бизнес-ключ (номер паспорта).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrNotFound — ресурс отсутствует или скрыт политикой доступа.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — роли недостаточно для операции.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrStorage — сбой БД или хранилища файлов; операцию можно повторить.
	ErrStorage = errors.New("хранилище недоступно")
)

// isServiceError сообщает, что ошибка уже приведена к таксономии сервиса.
func isServiceError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrStorage)
}

// mapRepoError переводит ошибку репозитория в ошибку сервиса.
// Всё, что не распознано, считается сбоем хранилища.
func mapRepoError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isServiceError(err):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: номер паспорта уже зарегистрирован", ErrConflict)
	case errors.Is(err, repository.ErrJobDemandNotFound):
		return fmt.Errorf("%w: заявка работодателя не найдена", ErrValidation)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
}
