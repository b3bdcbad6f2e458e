// Пакет leader — выбор экземпляра, выполняющего фоновое обслуживание,
// через flock() на общей директории метаданных.
//
// Несколько экземпляров Secure Share могут разделять одну директорию
// (файловый реестр на NFS). Очистка истёкших записей безопасна на любом
// экземпляре, а периодическую сверку выполняет только владелец блокировки.
//
// Алгоритм:
//  1. Попытка захватить эксклюзивную блокировку на {dir}/.maintenance.lock
//  2. Если блокировка получена — экземпляр ведущий, его имя записывается в .maintenance.info
//  3. Если нет — имя ведущего читается из .maintenance.info
//  4. Ведомый периодически пытается захватить lock (retry)
package leader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// lockFileName — имя файла блокировки.
	lockFileName = ".maintenance.lock"
	// infoFileName — имя файла с именем ведущего экземпляра.
	infoFileName = ".maintenance.info"
	// DefaultRetryInterval — интервал попыток захвата lock по умолчанию.
	DefaultRetryInterval = 5 * time.Second
)

// Election — выбор ведущего экземпляра через flock() на общей FS.
type Election struct {
	dir        string
	instanceID string
	retry      time.Duration
	logger     *slog.Logger

	// onAcquire вызывается один раз при получении блокировки
	onAcquire func()

	mu       sync.RWMutex
	leader   bool
	holder   string
	lockFile *os.File

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New создаёт экземпляр выбора ведущего.
//
// Параметры:
//   - dir: общая директория метаданных
//   - instanceID: имя текущего экземпляра
//   - retry: интервал повторных попыток (<= 0 — DefaultRetryInterval)
//   - onAcquire: вызывается при получении роли ведущего (может быть nil)
func New(dir, instanceID string, retry time.Duration, onAcquire func(), logger *slog.Logger) *Election {
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	return &Election{
		dir:        dir,
		instanceID: instanceID,
		retry:      retry,
		onAcquire:  onAcquire,
		logger:     logger.With(slog.String("component", "leader")),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start выполняет первую попытку захвата и возвращает управление.
// Ведомый продолжает попытки в фоне.
func (e *Election) Start() error {
	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", e.dir, err)
	}

	acquired, err := e.tryAcquireLock()
	if err != nil {
		return fmt.Errorf("ошибка при попытке захвата lock: %w", err)
	}

	if acquired {
		e.becomeLeader()
		close(e.done)
		return nil
	}

	e.becomeFollower()
	go e.retryLoop()
	return nil
}

// Stop останавливает попытки и освобождает lock. Повторный вызов безопасен.
func (e *Election) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		<-e.done

		e.mu.Lock()
		defer e.mu.Unlock()

		if e.lockFile != nil {
			_ = syscall.Flock(int(e.lockFile.Fd()), syscall.LOCK_UN)
			_ = e.lockFile.Close()
			e.lockFile = nil
			e.leader = false
			e.logger.Info("Lock обслуживания освобождён")
		}
	})
}

// IsLeader возвращает true, если экземпляр выполняет обслуживание.
func (e *Election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leader
}

// Holder возвращает имя ведущего экземпляра (может быть пустым).
func (e *Election) Holder() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.holder
}

// tryAcquireLock пытается захватить flock. Возвращает true, если блокировка получена.
func (e *Election) tryAcquireLock() (bool, error) {
	lockPath := filepath.Join(e.dir, lockFileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return false, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	// Неблокирующая попытка: занято — значит, ведущий уже есть
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return false, nil
	}

	e.mu.Lock()
	e.lockFile = f
	e.mu.Unlock()
	return true, nil
}

func (e *Election) becomeLeader() {
	e.mu.Lock()
	e.leader = true
	e.holder = e.instanceID
	e.mu.Unlock()

	if err := e.writeInfo(); err != nil {
		e.logger.Error("Ошибка записи .maintenance.info", slog.String("error", err.Error()))
	}

	e.logger.Info("Экземпляр выполняет фоновое обслуживание",
		slog.String("instance_id", e.instanceID),
	)

	if e.onAcquire != nil {
		e.onAcquire()
	}
}

func (e *Election) becomeFollower() {
	holder := e.readInfo()

	e.mu.Lock()
	e.leader = false
	e.holder = holder
	e.mu.Unlock()

	e.logger.Info("Фоновое обслуживание выполняет другой экземпляр",
		slog.String("holder", holder),
	)
}

// retryLoop — периодические попытки захвата lock.
func (e *Election) retryLoop() {
	defer close(e.done)

	ticker := time.NewTicker(e.retry)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			holder := e.readInfo()
			e.mu.Lock()
			e.holder = holder
			e.mu.Unlock()

			acquired, err := e.tryAcquireLock()
			if err != nil {
				e.logger.Warn("Ошибка retry захвата lock", slog.String("error", err.Error()))
				continue
			}
			if acquired {
				e.becomeLeader()
				return
			}
		}
	}
}

// writeInfo атомарно записывает имя ведущего в .maintenance.info.
func (e *Election) writeInfo() error {
	infoPath := filepath.Join(e.dir, infoFileName)
	tmpPath := infoPath + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(e.instanceID), 0o640); err != nil {
		return fmt.Errorf("ошибка записи temp .maintenance.info: %w", err)
	}
	if err := os.Rename(tmpPath, infoPath); err != nil {
		return fmt.Errorf("ошибка переименования .maintenance.info: %w", err)
	}
	return nil
}

// readInfo читает имя ведущего; пустая строка, если файла нет.
func (e *Election) readInfo() string {
	data, err := os.ReadFile(filepath.Join(e.dir, infoFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
