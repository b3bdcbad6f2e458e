package index

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock — эксклюзивная блокировка flock() на файле registry.lock.
// Сериализует доступ к registry.json между процессами, разделяющими
// одну директорию метаданных.
type fileLock struct {
	f *os.File
}

func openLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть файл блокировки %s: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

// lock блокирует до получения эксклюзивной блокировки.
func (l *fileLock) lock() error {
	for {
		err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_EX)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("ошибка flock: %w", err)
		}
		return nil
	}
}

func (l *fileLock) unlock() error {
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("ошибка снятия flock: %w", err)
	}
	return nil
}

func (l *fileLock) close() error {
	return l.f.Close()
}
