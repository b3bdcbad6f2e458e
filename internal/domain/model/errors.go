package model

import "errors"

var (
	// ErrNotFound — записи нет в реестре или её срок истёк.
	ErrNotFound = errors.New("запись не найдена")

	// ErrHandleExists — handle уже присутствует в реестре.
	ErrHandleExists = errors.New("handle уже существует")

	// ErrContentExists — под этим именем уже лежит содержимое.
	ErrContentExists = errors.New("содержимое уже существует")

	// ErrContentNotFound — содержимое отсутствует в Content Store.
	ErrContentNotFound = errors.New("содержимое не найдено")
)
