// Пакет redisindex — реестр метаданных в Redis.
//
// Раскладка ключей (prefix по умолчанию "ss"):
//
//	{prefix}:rec:{handle}  hash: data (JSON записи), views, expires_ms
//	{prefix}:expiry        zset: handle → expires_ms
//
// Insert, IncrementView и Delete выполняются Lua-скриптами, поэтому
// каждая операция атомарна на сервере Redis и несколько экземпляров
// сервиса могут разделять один реестр. Сравнение сроков ведётся
// в миллисекундах Unix.
package redisindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
)

// DefaultPrefix — префикс ключей по умолчанию.
const DefaultPrefix = "ss"

// insertScript: KEYS[1] = ключ записи, KEYS[2] = zset сроков;
// ARGV[1] = JSON, ARGV[2] = expires_ms, ARGV[3] = handle.
var insertScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HMSET", KEYS[1], "data", ARGV[1], "views", 0, "expires_ms", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// incrementScript: KEYS[1] = ключ записи; ARGV[1] = now_ms.
// Возвращает {data, views} или nil, если записи нет либо она истекла.
var incrementScript = redis.NewScript(`
local exp = redis.call("HGET", KEYS[1], "expires_ms")
if not exp then
    return nil
end
if tonumber(exp) <= tonumber(ARGV[1]) then
    return nil
end
local views = redis.call("HINCRBY", KEYS[1], "views", 1)
return {redis.call("HGET", KEYS[1], "data"), views}
`)

// deleteScript: KEYS[1] = ключ записи, KEYS[2] = zset сроков; ARGV[1] = handle.
// Возвращает {data, views} удалённой записи или nil.
var deleteScript = redis.NewScript(`
local vals = redis.call("HMGET", KEYS[1], "data", "views")
if not vals[1] then
    redis.call("ZREM", KEYS[2], ARGV[1])
    return nil
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return vals
`)

// Index — реестр метаданных поверх go-redis.
type Index struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// Open подключается к Redis по URL (redis://host:port/db) и проверяет
// соединение.
func Open(ctx context.Context, url, prefix string, logger *slog.Logger) (*Index, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("некорректный URL Redis: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("нет соединения с Redis %s: %w", opts.Addr, err)
	}

	idx := New(client, prefix, logger)
	idx.logger.Info("Реестр метаданных Redis подключён",
		slog.String("addr", opts.Addr),
		slog.String("prefix", idx.prefix),
	)
	return idx, nil
}

// New оборачивает готовый клиент. Пустой prefix заменяется DefaultPrefix.
func New(client *redis.Client, prefix string, logger *slog.Logger) *Index {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Index{
		client: client,
		prefix: prefix,
		logger: logger.With(slog.String("component", "redisindex")),
	}
}

func (idx *Index) recordKey(handle string) string {
	return idx.prefix + ":rec:" + handle
}

func (idx *Index) expiryKey() string {
	return idx.prefix + ":expiry"
}

// Insert добавляет запись; model.ErrHandleExists, если handle занят.
func (idx *Index) Insert(ctx context.Context, rec *model.Record) error {
	stored := rec.Clone()
	stored.ViewCount = 0
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи %s: %w", rec.Handle, err)
	}

	res, err := insertScript.Run(ctx, idx.client,
		[]string{idx.recordKey(rec.Handle), idx.expiryKey()},
		string(data), rec.ExpiresAt.UnixMilli(), rec.Handle,
	).Int64()
	if err != nil {
		return fmt.Errorf("ошибка Redis при вставке %s: %w", rec.Handle, err)
	}
	if res == 0 {
		return fmt.Errorf("%s: %w", rec.Handle, model.ErrHandleExists)
	}
	return nil
}

// Get возвращает снимок записи; истёкшая запись считается отсутствующей.
func (idx *Index) Get(ctx context.Context, handle string, now time.Time) (*model.Record, error) {
	vals, err := idx.client.HMGet(ctx, idx.recordKey(handle), "data", "views", "expires_ms").Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка Redis при чтении %s: %w", handle, err)
	}
	if vals[0] == nil {
		return nil, fmt.Errorf("%s: %w", handle, model.ErrNotFound)
	}

	expiresMs, err := parseInt(vals[2])
	if err != nil {
		return nil, fmt.Errorf("повреждённая запись %s: %w", handle, err)
	}
	if expiresMs <= now.UnixMilli() {
		return nil, fmt.Errorf("%s: %w", handle, model.ErrNotFound)
	}

	return decode(handle, vals[0], vals[1])
}

// IncrementView атомарно увеличивает счётчик просмотров.
func (idx *Index) IncrementView(ctx context.Context, handle string, now time.Time) (*model.Record, error) {
	res, err := incrementScript.Run(ctx, idx.client,
		[]string{idx.recordKey(handle)},
		now.UnixMilli(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", handle, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка Redis при обновлении %s: %w", handle, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("неожиданный ответ скрипта для %s: %v", handle, res)
	}
	return decode(handle, res[0], res[1])
}

// Delete атомарно удаляет запись и возвращает её последний снимок.
func (idx *Index) Delete(ctx context.Context, handle string) (*model.Record, error) {
	res, err := deleteScript.Run(ctx, idx.client,
		[]string{idx.recordKey(handle), idx.expiryKey()},
		handle,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", handle, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка Redis при удалении %s: %w", handle, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("неожиданный ответ скрипта для %s: %v", handle, res)
	}
	return decode(handle, res[0], res[1])
}

// ListExpired читает истёкшие handle из zset одним запросом, а сами
// записи загружает по мере итерации. Записи, удалённые между
// сканированием и чтением, пропускаются.
func (idx *Index) ListExpired(ctx context.Context, now time.Time) iter.Seq2[*model.Record, error] {
	return func(yield func(*model.Record, error) bool) {
		handles, err := idx.client.ZRangeByScore(ctx, idx.expiryKey(), &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now.UnixMilli(), 10),
		}).Result()
		if err != nil {
			yield(nil, fmt.Errorf("ошибка Redis при сканировании сроков: %w", err))
			return
		}

		for _, handle := range handles {
			vals, err := idx.client.HMGet(ctx, idx.recordKey(handle), "data", "views").Result()
			if err != nil {
				if !yield(nil, fmt.Errorf("ошибка Redis при чтении %s: %w", handle, err)) {
					return
				}
				continue
			}
			if vals[0] == nil {
				continue
			}
			rec, err := decode(handle, vals[0], vals[1])
			if !yield(rec, err) {
				return
			}
		}
	}
}

// Ping проверяет доступность Redis.
func (idx *Index) Ping(ctx context.Context) error {
	return idx.client.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (idx *Index) Close() error {
	return idx.client.Close()
}

// decode собирает запись из JSON и отдельно хранимого счётчика.
func decode(handle string, data, views any) (*model.Record, error) {
	raw, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("повреждённая запись %s: поле data типа %T", handle, data)
	}
	var rec model.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("повреждённая запись %s: %w", handle, err)
	}

	count, err := parseInt(views)
	if err != nil {
		return nil, fmt.Errorf("повреждённый счётчик %s: %w", handle, err)
	}
	rec.ViewCount = count
	return &rec, nil
}

// parseInt принимает значение из ответа Redis: int64 из скрипта
// или строку из HMGET.
func parseInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, errors.New("значение отсутствует")
	default:
		return 0, fmt.Errorf("неожиданный тип %T", v)
	}
}

var _ storage.Registry = (*Index)(nil)
