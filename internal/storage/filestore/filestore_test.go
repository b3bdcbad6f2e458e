package filestore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/secureshare/internal/domain/model"
)

// TestNew_CreatesDirectory проверяет создание директории данных.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if fs.DataDir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, fs.DataDir())
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("директория не создана: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("путь не является директорией")
	}
}

// TestPutGet проверяет запись и чтение содержимого.
func TestPutGet(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	ctx := context.Background()

	content := []byte("Hello, World! Тестовые данные для проверки.")
	if err := fs.Put(ctx, "abc.txt", content); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	data, err := fs.Get(ctx, "abc.txt")
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое файла не совпадает")
	}

	onDisk, err := os.ReadFile(fs.FullPath("abc.txt"))
	if err != nil {
		t.Fatalf("файл не найден на диске: %v", err)
	}
	if !bytes.Equal(onDisk, content) {
		t.Error("содержимое на диске не совпадает")
	}
}

// TestPut_NoTmpFile проверяет, что temp файл удалён после записи.
func TestPut_NoTmpFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	if err := fs.Put(context.Background(), "file.txt", []byte("data")); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ошибка чтения директории: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tmpSuffix) {
			t.Errorf("temp файл не удалён: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("ожидался 1 файл, получено %d", len(entries))
	}
}

// TestPut_DoesNotOverwrite проверяет, что существующий файл не заменяется.
func TestPut_DoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	ctx := context.Background()

	if err := fs.Put(ctx, "abc.txt", []byte("первый")); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	err = fs.Put(ctx, "abc.txt", []byte("второй"))
	if !errors.Is(err, model.ErrContentExists) {
		t.Fatalf("ожидалась ErrContentExists, получено: %v", err)
	}

	data, err := fs.Get(ctx, "abc.txt")
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if string(data) != "первый" {
		t.Errorf("содержимое перезаписано: %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ошибка чтения директории: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("после отказа остались лишние файлы: %d", len(entries))
	}
}

// TestGet_NotFound проверяет ошибку для отсутствующего файла.
func TestGet_NotFound(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	_, err = fs.Get(context.Background(), "missing.bin")
	if !errors.Is(err, model.ErrContentNotFound) {
		t.Errorf("ожидалась ErrContentNotFound, получено %v", err)
	}
}

// TestDelete_Idempotent проверяет, что повторное удаление не ошибка.
func TestDelete_Idempotent(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	ctx := context.Background()

	if err := fs.Put(ctx, "a.pdf", []byte("pdf")); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	if err := fs.Delete(ctx, "a.pdf"); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if err := fs.Delete(ctx, "a.pdf"); err != nil {
		t.Errorf("повторное удаление вернуло ошибку: %v", err)
	}
	if _, err := fs.Get(ctx, "a.pdf"); !errors.Is(err, model.ErrContentNotFound) {
		t.Errorf("файл доступен после удаления: %v", err)
	}
}

// TestInvalidNames проверяет отказ для имён с путями.
func TestInvalidNames(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	ctx := context.Background()

	for _, name := range []string{"", "../escape", "dir/file", ".hidden", ".."} {
		if err := fs.Put(ctx, name, []byte("x")); err == nil {
			t.Errorf("Put(%q): ожидалась ошибка", name)
		}
		if _, err := fs.Get(ctx, name); err == nil {
			t.Errorf("Get(%q): ожидалась ошибка", name)
		}
	}
}

// TestList проверяет перечисление содержимого без служебных файлов.
func TestList(t *testing.T) {
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	ctx := context.Background()

	_ = fs.Put(ctx, "one.txt", []byte("1"))
	_ = fs.Put(ctx, "two.png", []byte("22"))
	_ = os.MkdirAll(filepath.Join(dir, ".meta"), 0o750)
	_ = os.WriteFile(filepath.Join(dir, ".x.bin.123.tmp"), []byte("partial"), 0o640)

	blobs, err := fs.List(ctx)
	if err != nil {
		t.Fatalf("ошибка List: %v", err)
	}
	if len(blobs) != 2 {
		t.Fatalf("ожидалось 2 объекта, получено %d: %+v", len(blobs), blobs)
	}

	sizes := map[string]int64{}
	for _, b := range blobs {
		sizes[b.StoredName] = b.Size
	}
	if sizes["one.txt"] != 1 || sizes["two.png"] != 2 {
		t.Errorf("неверные размеры: %v", sizes)
	}
}

// TestPut_ConcurrentDistinctNames проверяет параллельную запись разных объектов.
func TestPut_ConcurrentDistinctNames(t *testing.T) {
	fs, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a'+i)) + ".bin"
			if err := fs.Put(ctx, name, bytes.Repeat([]byte{byte(i)}, 1024)); err != nil {
				t.Errorf("Put %s: %v", name, err)
			}
		}(i)
	}
	wg.Wait()

	blobs, err := fs.List(ctx)
	if err != nil {
		t.Fatalf("ошибка List: %v", err)
	}
	if len(blobs) != 20 {
		t.Errorf("ожидалось 20 объектов, получено %d", len(blobs))
	}
}
