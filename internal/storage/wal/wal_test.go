package wal

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	return w
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), "nested", "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("Dir: хотели %s, получили %s", walDir, w.Dir())
	}
	if info, err := os.Stat(walDir); err != nil || !info.IsDir() {
		t.Fatalf("директория WAL не создана: %v", err)
	}
}

// TestNew_ReadOnlyDir проверяет ошибку при недоступной для записи директории.
func TestNew_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root игнорирует права доступа")
	}
	walDir := filepath.Join(t.TempDir(), "wal")
	if err := os.MkdirAll(walDir, 0o550); err != nil {
		t.Fatal(err)
	}

	if _, err := New(walDir, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка для директории только для чтения")
	}
}

// TestStartTransaction проверяет поля новой транзакции и файл на диске.
func TestStartTransaction(t *testing.T) {
	w := newTestWAL(t)

	entry, err := w.StartTransaction(OpIngest, "0123abcd", "0123abcd.pdf")
	if err != nil {
		t.Fatalf("ошибка StartTransaction: %v", err)
	}

	if entry.TransactionID == "" {
		t.Error("TransactionID пуст")
	}
	if entry.Operation != OpIngest || entry.Status != StatusPending {
		t.Errorf("хотели %s/%s, получили %s/%s", OpIngest, StatusPending, entry.Operation, entry.Status)
	}
	if entry.Handle != "0123abcd" || entry.StoredName != "0123abcd.pdf" {
		t.Errorf("неверные Handle/StoredName: %+v", entry)
	}
	if entry.CompletedAt != nil {
		t.Error("CompletedAt должен быть nil для pending")
	}

	data, err := os.ReadFile(filepath.Join(w.Dir(), walFileName(entry.TransactionID)))
	if err != nil {
		t.Fatalf("файл WAL не создан: %v", err)
	}
	var onDisk Entry
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("файл WAL не JSON: %v", err)
	}
	if onDisk.StoredName != entry.StoredName {
		t.Errorf("StoredName на диске: хотели %s, получили %s", entry.StoredName, onDisk.StoredName)
	}
}

// TestCommitRollback проверяет закрытие транзакций и запрет повторного закрытия.
func TestCommitRollback(t *testing.T) {
	w := newTestWAL(t)

	a, _ := w.StartTransaction(OpIngest, "a", "a.txt")
	b, _ := w.StartTransaction(OpReap, "b", "b.txt")

	if err := w.Commit(a.TransactionID); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}
	if err := w.Rollback(b.TransactionID); err != nil {
		t.Fatalf("ошибка Rollback: %v", err)
	}

	got, err := w.GetTransaction(a.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCommitted || got.CompletedAt == nil {
		t.Errorf("a: хотели committed с CompletedAt, получили %+v", got)
	}
	got, _ = w.GetTransaction(b.TransactionID)
	if got.Status != StatusRolledBack {
		t.Errorf("b: хотели rolled_back, получили %s", got.Status)
	}

	if err := w.Commit(a.TransactionID); err == nil {
		t.Error("повторный Commit должен вернуть ошибку")
	}
	if err := w.Rollback(a.TransactionID); err == nil {
		t.Error("Rollback после Commit должен вернуть ошибку")
	}
	if err := w.Commit("missing"); err == nil {
		t.Error("Commit несуществующей транзакции должен вернуть ошибку")
	}
}

// TestRecoverPending проверяет, что после «рестарта» видны только pending.
func TestRecoverPending(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	first, _ := w.StartTransaction(OpIngest, "h1", "h1.pdf")
	done, _ := w.StartTransaction(OpIngest, "h2", "h2.pdf")
	second, _ := w.StartTransaction(OpReap, "h3", "h3")
	_ = w.Commit(done.TransactionID)

	// Мусорный файл не мешает восстановлению
	_ = os.WriteFile(filepath.Join(dir, "broken"+entrySuffix), []byte("{"), 0o640)

	restarted, err := New(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	pending, err := restarted.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка RecoverPending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("хотели 2 pending, получили %d", len(pending))
	}
	if pending[0].TransactionID != first.TransactionID || pending[1].TransactionID != second.TransactionID {
		t.Errorf("нарушен порядок восстановления: %s, %s", pending[0].Handle, pending[1].Handle)
	}
	if pending[1].Operation != OpReap {
		t.Errorf("операция: хотели %s, получили %s", OpReap, pending[1].Operation)
	}
}

// TestCleanCommitted проверяет, что удаляются только закрытые записи.
func TestCleanCommitted(t *testing.T) {
	w := newTestWAL(t)

	a, _ := w.StartTransaction(OpIngest, "a", "a")
	b, _ := w.StartTransaction(OpIngest, "b", "b")
	c, _ := w.StartTransaction(OpIngest, "c", "c")
	_ = w.Commit(a.TransactionID)
	_ = w.Rollback(b.TransactionID)

	cleaned, err := w.CleanCommitted()
	if err != nil {
		t.Fatalf("ошибка CleanCommitted: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("хотели 2 удалённых, получили %d", cleaned)
	}
	if _, err := w.GetTransaction(c.TransactionID); err != nil {
		t.Errorf("pending запись удалена: %v", err)
	}
	if _, err := w.GetTransaction(a.TransactionID); err == nil {
		t.Error("committed запись не удалена")
	}
}

// TestConcurrentTransactions проверяет параллельную работу с WAL.
func TestConcurrentTransactions(t *testing.T) {
	w := newTestWAL(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := w.StartTransaction(OpIngest, "h", "h")
			if err != nil {
				t.Errorf("StartTransaction: %v", err)
				return
			}
			if err := w.Commit(entry.TransactionID); err != nil {
				t.Errorf("Commit: %v", err)
			}
		}()
	}
	wg.Wait()

	pending, err := w.RecoverPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("хотели 0 pending, получили %d", len(pending))
	}

	entries, _ := filepath.Glob(filepath.Join(w.Dir(), "*"+entrySuffix))
	if len(entries) != 25 {
		t.Errorf("хотели 25 файлов WAL, получили %d", len(entries))
	}
}
