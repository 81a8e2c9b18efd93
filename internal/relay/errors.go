package relay

import "errors"

// Таксономия ошибок релея. Дубликат сигнала ошибкой не является -
// роутер возвращает предыдущий результат как идемпотентный успех.
var (
	// ErrAuth - неверные учетные данные, соединение отклоняется сразу,
	// аккаунт не создается
	ErrAuth = errors.New("invalid credentials")

	// ErrUnknownAccount - операция над незарегистрированным аккаунтом
	ErrUnknownAccount = errors.New("unknown account")

	// ErrValidation - некорректный сигнал, отклоняется до записи в БД
	ErrValidation = errors.New("invalid signal")

	// ErrDuplicateTrade - комиссия за (subscription, trade) уже записана
	ErrDuplicateTrade = errors.New("trade already recorded")

	// ErrIllegalState - недопустимый переход состояния (например
	// повторный mark-paid)
	ErrIllegalState = errors.New("illegal state transition")

	// ErrOverCapacity - превышен потолок одновременных рассылок,
	// сигнал отклоняется вместо постановки в очередь
	ErrOverCapacity = errors.New("relay over capacity")
)
