package service

import "errors"

// Ошибки доменного ядра. Хранилища возвращают их (возможно, обёрнутыми),
// обработчики отображают в HTTP-статусы через errors.Is.
var (
	// ErrValidation возвращается при некорректных входных данных операции.
	ErrValidation = errors.New("validation failed")
	// ErrConflict возвращается при недопустимом переходе статуса или проигранной гонке compare-and-set.
	ErrConflict = errors.New("illegal state transition")
	// ErrInsufficientFunds возвращается при попытке списания суммы, превышающей баланс кошелька.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientInventory возвращается, когда запрошенное количество превышает остаток предложения.
	ErrInsufficientInventory = errors.New("insufficient inventory")
	// ErrAuthorization возвращается при отсутствии идентичности вызывающего или нехватке прав.
	ErrAuthorization = errors.New("not authorized")
	// ErrNotFound возвращается, если запись с указанным идентификатором не существует.
	ErrNotFound = errors.New("not found")
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
