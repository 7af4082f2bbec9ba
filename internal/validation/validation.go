// Package validation содержит функции валидации входных данных.
package validation

// Допустимый диапазон цены за один углеродный кредит, VND.
const (
	MinPricePerCredit int64 = 140000
	MaxPricePerCredit int64 = 270000
)

// ClampPrice приводит цену за кредит к ближайшей границе допустимого диапазона.
// Цена вне диапазона не отклоняется — так ведёт себя форма подачи предложения.
func ClampPrice(price int64) int64 {
	if price < MinPricePerCredit {
		return MinPricePerCredit
	}
	if price > MaxPricePerCredit {
		return MaxPricePerCredit
	}
	return price
}

// IsValidSerialNumber проверяет формат серийного номера сертификата:
// от 6 до 64 символов, латинские буквы, цифры и дефисы.
func IsValidSerialNumber(serial string) bool {
	if len(serial) < 6 || len(serial) > 64 {
		return false
	}

	for i := 0; i < len(serial); i++ {
		ch := serial[i]
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch == '-':
		default:
			return false
		}
	}

	return true
}
