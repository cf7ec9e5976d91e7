package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ReadingRepository 心率读数仓库
// 每个 tracker 一张追加表，表名由 tracker ID 派生并做安全字符过滤
type ReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingRepository 创建读数仓库
func NewReadingRepository(db *sql.DB, logger *zap.Logger) *ReadingRepository {
	return &ReadingRepository{
		db:     db,
		logger: logger,
	}
}

// TableName 由 tracker ID 派生表名
// 标识符只保留 [a-z0-9_]，其余字符替换为下划线，避免 SQL 注入
func TableName(trackerID string) string {
	var b strings.Builder
	b.WriteString("hr_")
	for _, c := range strings.ToLower(trackerID) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EnsureTable 幂等创建 tracker 的读数表
func (r *ReadingRepository) EnsureTable(trackerID string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			recorded_at TEXT NOT NULL,
			heart_rate INTEGER NOT NULL
		)
	`, TableName(trackerID))

	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to ensure table for tracker %s: %w", trackerID, err)
	}

	return nil
}

// InsertReading 追加一条读数
// timestampLabel 是人类可读的时间标签（跨天时带日期，否则仅时分秒）
func (r *ReadingRepository) InsertReading(trackerID string, timestampLabel string, heartRate int) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (recorded_at, heart_rate)
		VALUES ($1, $2)
	`, TableName(trackerID))

	if _, err := r.db.Exec(query, timestampLabel, heartRate); err != nil {
		return fmt.Errorf("failed to insert reading for tracker %s: %w", trackerID, err)
	}

	return nil
}
