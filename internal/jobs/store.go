package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix = "job:"
	rowKeySuffix = ":rows"
)

// Store はジョブと行の状態を Redis に保存します。
// 1つのジョブを終了状態へ遷移させるのは担当 Executor だけという前提のため、
// 分散ロックは持ちません。
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore は Store を作成します。
// ttl が 0 の場合、レコードと行は無期限に保持されます。
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create は処理中状態の新規ジョブを保存します。
func (s *Store) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("record.JobID is required")
	}

	now := time.Now().UTC()
	record.Status = StatusProcessing
	record.CreatedAt = now
	record.UpdatedAt = now
	if s.ttl > 0 {
		record.ExpiresAt = now.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

// Get はジョブ情報を取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// AppendRow は行の処理結果を追記します。
func (s *Store) AppendRow(ctx context.Context, row *Row) error {
	if row == nil {
		return fmt.Errorf("row is nil")
	}
	if row.JobID == "" {
		return fmt.Errorf("row.JobID is required")
	}

	row.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}

	key := rowKey(row.JobID)
	if err := s.rdb.RPush(ctx, key, payload).Err(); err != nil {
		return err
	}
	if s.ttl > 0 {
		return s.rdb.Expire(ctx, key, s.ttl).Err()
	}
	return nil
}

// ListRows はジョブの全行をシリアル番号の昇順で返します。
// 同じシリアル番号の行は保存順を維持します。
func (s *Store) ListRows(ctx context.Context, jobID string) ([]Row, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.LRange(ctx, rowKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(data))
	for _, item := range data {
		var row Row
		if err := json.Unmarshal([]byte(item), &row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	sortRowsBySerial(rows)
	return rows, nil
}

// MarkCompleted は成果物の場所を保存し、ジョブを完了状態へ遷移させます。
func (s *Store) MarkCompleted(ctx context.Context, jobID, resultPath string) error {
	return s.finalize(ctx, jobID, func(record *Record) {
		record.Status = StatusCompleted
		record.ResultPath = resultPath
		record.Error = nil
	})
}

// MarkFailed はエラー情報を保存し、ジョブを失敗状態へ遷移させます。
func (s *Store) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.finalize(ctx, jobID, func(record *Record) {
		record.Status = StatusFailed
		record.ResultPath = ""
		if errInfo != nil {
			record.Error = errInfo
		}
	})
}

// finalize は終了状態への遷移を一度だけ許可します。
// 既に終了しているジョブへの遷移はエラーになります。
func (s *Store) finalize(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	for {
		tx := s.rdb.TxPipeline()
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return fmt.Errorf("job not found: %s", jobID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		if record.Status.IsTerminal() {
			return fmt.Errorf("job already finalized: %s (%s)", jobID, record.Status)
		}

		mutate(&record)
		now := time.Now().UTC()
		record.UpdatedAt = now
		record.CompletedAt = &now

		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		tx.Set(ctx, key, payload, s.ttl)
		_, err = tx.Exec(ctx)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
}

func sortRowsBySerial(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].SerialNumber < rows[j].SerialNumber
	})
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func rowKey(id string) string {
	return jobKeyPrefix + id + rowKeySuffix
}
