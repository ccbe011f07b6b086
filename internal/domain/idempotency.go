package domain

import "time"

// DefaultIdempotencyTTL: срок жизни ключа, если вызывающий не задал свой.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus: стадия обработки запроса с Idempotency-Key.
// processing переходит либо в done, либо в failed; обратных переходов нет.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// Valid отсекает статусы, которых нет в жизненном цикле ключа.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s.terminal()
}

func (s IdempotencyStatus) terminal() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord: занятый ключ и, после завершения, сохранённый ответ.
// Повтор с тем же ключом и тем же RequestHash получает ResponseBody и HTTPStatus.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Finished: ответ сохранён и его можно отдать повтору.
func (r IdempotencyRecord) Finished() bool {
	return r.Status.terminal()
}

// Expired: TTLAt наступил к моменту now. Нулевой TTLAt не истекает.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	if r.TTLAt.IsZero() {
		return false
	}
	return !now.Before(r.TTLAt)
}
