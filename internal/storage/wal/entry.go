// Пакет wal — файловый журнал намерений (Write-Ahead Log) для операций,
// затрагивающих одновременно хранилище содержимого и реестр метаданных.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в SS_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpIngest — запись содержимого и вставка записи реестра
	OpIngest OperationType = "ingest"
	// OpReap — удаление записи реестра и её содержимого
	OpReap OperationType = "reap"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	// Handle — идентификатор записи реестра
	Handle string `json:"handle"`
	// StoredName — ключ объекта в хранилище содержимого
	StoredName string `json:"stored_name"`

	StartedAt time.Time `json:"started_at"`
	// CompletedAt — nil для pending транзакций
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const entrySuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + entrySuffix
}
