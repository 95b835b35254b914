package domain

import "errors"

var (
	// ErrTopicNotFound возвращается, когда тема не существует или удалена.
	ErrTopicNotFound = errors.New("topic not found")

	// ErrInvalidTopic оборачивает ошибки валидации конфигурации темы.
	ErrInvalidTopic = errors.New("invalid topic configuration")

	// ErrNoSnapshot возвращается, когда у темы ещё нет ни одного снимка анализа.
	ErrNoSnapshot = errors.New("snapshot not found")

	// ErrPushRecordResolved возвращается при повторной попытке завершить запись доставки.
	ErrPushRecordResolved = errors.New("push record already resolved")
)

// TransientError помечает временный сбой, который имеет смысл повторить.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient оборачивает ошибку как временную. nil остаётся nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient сообщает, помечена ли ошибка как временная.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
