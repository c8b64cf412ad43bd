package domain

import "errors"

// ErrImagePostNotFound возвращается, когда пост из события отсутствует в БД.
// Это нарушение целостности: событие не повторяется, а выносится в лог.
var ErrImagePostNotFound = errors.New("image post not found")

// ErrLinkPostNotFound — то же для постов со ссылками.
var ErrLinkPostNotFound = errors.New("link post not found")

// ErrContentUnavailable сообщает, что исходная картинка недоступна
// сервису извлечения признаков. Это ожидаемая ветка, а не сбой.
var ErrContentUnavailable = errors.New("source content unavailable")

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable помечает ошибку как неповторяемую: шина не будет
// передоставлять сообщение. Ошибки валидации и целостности всегда такие.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsRetryable сообщает, имеет ли смысл повторная доставка.
// По умолчанию ошибки считаются временными.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var marked *nonRetryableError
	if errors.As(err, &marked) {
		return false
	}
	if errors.Is(err, ErrImagePostNotFound) || errors.Is(err, ErrLinkPostNotFound) {
		return false
	}
	return true
}
