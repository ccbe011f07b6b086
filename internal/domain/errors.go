package domain

import (
	"errors"
	"fmt"
)

// Базовые виды ошибок. Конкретные ошибки ниже оборачивают один из них,
// транспортный слой сопоставляет статус только по виду.
var (
	// ErrNotFound: запрошенная сущность отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized: вызывающий не владелец ресурса или не администратор.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidState: бизнес-правило запрещает операцию в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")
	// ErrInternal: непредвиденная ошибка хранилища или рантайма.
	ErrInternal = errors.New("operation failed")
)

var (
	// Ошибка отсутствующего товара.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// Ошибка отсутствующего заказа.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// Ошибка отсутствующего пользователя.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// Ошибка отсутствующей истории.
	ErrStoryNotFound = fmt.Errorf("story %w", ErrNotFound)
	// ErrNoEligibleProduct: среди top-market товаров нет кандидата с ненулевым остатком.
	ErrNoEligibleProduct = fmt.Errorf("eligible top-market product %w", ErrNotFound)
	// ErrNoCurrentTopMarket: текущий top-market товар не назначен.
	ErrNoCurrentTopMarket = fmt.Errorf("current top-market product %w", ErrNotFound)

	// ErrNotOrderOwner: пользователь пытается изменить чужой заказ.
	ErrNotOrderOwner = fmt.Errorf("order belongs to another user: %w", ErrUnauthorized)
	// ErrAdminRequired: операция доступна только администратору.
	ErrAdminRequired = fmt.Errorf("admin role required: %w", ErrUnauthorized)

	// ErrProductUnavailable: top-market товар сейчас не продаётся.
	ErrProductUnavailable = fmt.Errorf("product unavailable: %w", ErrInvalidState)
	// ErrInsufficientStock: остатка не хватает на запрошенное количество.
	ErrInsufficientStock = fmt.Errorf("insufficient stock: %w", ErrInvalidState)
	// ErrQuantityInvalid: количество должно быть больше нуля.
	ErrQuantityInvalid = fmt.Errorf("quantity must be greater than zero: %w", ErrInvalidState)
	// ErrPriceInvalid: цена и сумма не могут быть отрицательными.
	ErrPriceInvalid = fmt.Errorf("price must be non-negative: %w", ErrInvalidState)
	// ErrTopMarketStockRequired: новый top-market товар без остатка недопустим.
	ErrTopMarketStockRequired = fmt.Errorf("top-market product requires positive stock: %w", ErrInvalidState)
	// ErrOrderNotInCart: заказ уже подтверждён пользователем.
	ErrOrderNotInCart = fmt.Errorf("order is not in cart: %w", ErrInvalidState)
	// ErrOrderNotPending: заказ не ожидает решения администратора.
	ErrOrderNotPending = fmt.Errorf("order is not pending admin confirmation: %w", ErrInvalidState)
	// ErrCheckoutEmpty: в подтверждении нет ни одного заказа.
	ErrCheckoutEmpty = fmt.Errorf("checkout must contain at least one order: %w", ErrInvalidState)
	// ErrDuplicateCheckoutItem: один и тот же заказ указан дважды.
	ErrDuplicateCheckoutItem = fmt.Errorf("checkout contains duplicate order: %w", ErrInvalidState)

	// ErrStoryAlreadyViewed возвращается хранилищем при повторном просмотре.
	ErrStoryAlreadyViewed = errors.New("story already viewed")
	// ErrIdempotencyKeyAlreadyExists: ключ идемпотентности уже занят.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch: ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyRequired: пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired: пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound: ключ идемпотентности не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// OperationError скрывает причину внутренней ошибки от клиента,
// но сохраняет её для логов через Unwrap.
type OperationError struct {
	Op    string
	Cause error
}

func (e *OperationError) Error() string {
	return e.Op + ": " + ErrInternal.Error()
}

func (e *OperationError) Unwrap() []error {
	return []error{ErrInternal, e.Cause}
}

// Internal оборачивает непредвиденную ошибку в InternalFailure.
// Доменные ошибки и уже обёрнутые возвращаются без изменений.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsUnauthorized(err) || IsInvalidState(err) || IsInternal(err) {
		return err
	}
	return &OperationError{Op: op, Cause: err}
}

// IsNotFound проверяет, относится ли ошибка к виду NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized проверяет, относится ли ошибка к виду Unauthorized.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsInvalidState проверяет, относится ли ошибка к виду InvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsInternal проверяет, является ли ошибка уже обёрнутой InternalFailure.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// IsIdempotencyConflict проверяет конфликт ключа идемпотентности.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
