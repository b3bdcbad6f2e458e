// Пакет s3store — Content Store в S3-совместимом объектном хранилище
// (AWS S3, MinIO, LocalStack). Ключ объекта — prefix + StoredName.
// PutObject в S3 атомарен: объект либо появляется целиком, либо нет.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bigkaa/secureshare/internal/domain/model"
	"github.com/bigkaa/secureshare/internal/storage"
)

// API — подмножество s3.Client, используемое хранилищем.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	s3.ListObjectsV2APIClient
}

// Config — параметры подключения.
type Config struct {
	Bucket string
	Region string
	// Endpoint — нестандартный адрес (MinIO, LocalStack); включает path-style
	Endpoint string
	// Prefix — префикс ключей, например "secure-share/"
	Prefix string
}

// Store — Content Store поверх S3.
type Store struct {
	client API
	bucket string
	prefix string
}

// New создаёт клиент S3 из стандартной цепочки учётных данных AWS.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("не задан бакет S3")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient создаёт хранилище поверх готового клиента.
func NewWithClient(client API, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Put загружает объект.
func (s *Store) Put(ctx context.Context, storedName string, data []byte) error {
	key, err := s.key(storedName)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
		// Условная запись: существующий объект не перезаписывается
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PreconditionFailed", "ConditionalRequestConflict":
				return fmt.Errorf("%s: %w", key, model.ErrContentExists)
			}
		}
		return fmt.Errorf("ошибка записи в S3 %s: %w", key, err)
	}
	return nil
}

// Get скачивает объект целиком; model.ErrContentNotFound, если его нет.
func (s *Store) Get(ctx context.Context, storedName string) ([]byte, error) {
	key, err := s.key(storedName)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", storedName, model.ErrContentNotFound)
		}
		return nil, fmt.Errorf("ошибка чтения из S3 %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения тела объекта %s: %w", key, err)
	}
	return data, nil
}

// Delete удаляет объект. S3 не возвращает ошибку для отсутствующего ключа.
func (s *Store) Delete(ctx context.Context, storedName string) error {
	key, err := s.key(storedName)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из S3 %s: %w", key, err)
	}
	return nil
}

// List перечисляет объекты под префиксом постранично.
func (s *Store) List(ctx context.Context) ([]model.BlobInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var result []model.BlobInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка перечисления S3: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			result = append(result, model.BlobInfo{
				StoredName: name,
				Size:       aws.ToInt64(obj.Size),
				ModTime:    aws.ToTime(obj.LastModified),
			})
		}
	}
	return result, nil
}

// Ping проверяет доступность бакета.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Bucket возвращает имя бакета.
func (s *Store) Bucket() string {
	return s.bucket
}

func (s *Store) key(storedName string) (string, error) {
	if storedName == "" || strings.ContainsAny(storedName, "/\\") || strings.HasPrefix(storedName, ".") {
		return "", fmt.Errorf("недопустимое имя содержимого %q", storedName)
	}
	return s.prefix + storedName, nil
}

var _ storage.ContentStore = (*Store)(nil)
