package service

import (
	"errors"
	"fmt"
)

// Ошибки доменного уровня, которые видит вызывающий PlaceOrder.
// Каждая гарантирует состояние леджера, описанное рядом: у первых трёх
// side effects не переживают возврат, у PersistenceFailure любое
// пережившее списание зафиксировано durable CompensationRecord.

// ErrInvalidRequest — некорректный вход (пустые позиции, количество <= 0,
// дубликат товара); отклоняется до какого-либо обращения к леджеру
var ErrInvalidRequest = errors.New("invalid order request")

// ErrOutOfStock — хотя бы одну позицию не удалось зарезервировать;
// леджер к моменту возврата полностью восстановлен
var ErrOutOfStock = errors.New("out of stock")

// ErrConcurrencyExhausted — исчерпаны повторы по конфликтам версий;
// леджер к моменту возврата полностью восстановлен, звонок можно повторить целиком
var ErrConcurrencyExhausted = errors.New("stock contention retries exhausted")

// ErrPersistenceFailure — storage не дал довести сагу до конца.
// Если ошибка случилась после закоммиченного резервирования, обратное
// списание durably зафиксировано в CompensationRecord; если до него
// (например, на idempotency-проверке) — леджер не трогался и компенсировать нечего.
// Вызывающему заказ НЕ размещён: повторять нужно весь заказ с нуля
var ErrPersistenceFailure = errors.New("order persistence failed")

// UnreversedError возвращается координатором, когда синхронный откат
// частично применённого плана сам упал на storage ошибке.
// Remaining — прямые дельты, всё ещё применённые к леджеру: оркестратор
// обязан durably зафиксировать их компенсацию, молча терять списание нельзя
type UnreversedError struct {
	ReservationID string
	Remaining     []LineDelta
	Err           error
}

func (e *UnreversedError) Error() string {
	return fmt.Sprintf("reservation %s: rollback incomplete, %d deltas still applied: %v",
		e.ReservationID, len(e.Remaining), e.Err)
}

func (e *UnreversedError) Unwrap() error {
	return e.Err
}
