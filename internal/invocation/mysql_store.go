package invocation

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "flowforge/internal/errors"
)

const invocationColumns = `id, workflow, trigger_source, override_params, status, result, error_code, last_error, created_at, updated_at`

// MySQLStore 使用 MySQL 记录调用状态与结果。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 根据 DSN 建立连接并初始化表结构。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store, err := NewMySQLStoreFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreFromDB 复用已有连接池，并确保表结构存在。
func NewMySQLStoreFromDB(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	store := &MySQLStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS workflow_invocations (
        id VARCHAR(64) PRIMARY KEY,
        workflow VARCHAR(128) NOT NULL,
        trigger_source VARCHAR(16) NOT NULL,
        override_params TEXT,
        status VARCHAR(32) NOT NULL,
        result TEXT,
        error_code VARCHAR(64) NOT NULL DEFAULT '',
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_invocation_status (status),
        INDEX idx_invocation_workflow (workflow, updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 workflow_invocations 表失败")
	}
	return nil
}

// Create 插入新的调用记录。
func (s *MySQLStore) Create(ctx context.Context, inv *Invocation) error {
	if inv == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "invocation 不能为空")
	}
	if strings.TrimSpace(inv.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "调用 ID 不能为空")
	}

	now := s.now().Unix()
	if inv.CreatedAt == 0 {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	const stmt = `INSERT INTO workflow_invocations
        (id, workflow, trigger_source, override_params, status, error_code, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		inv.ID,
		inv.Workflow,
		string(inv.Trigger),
		nullableRaw(inv.Override),
		string(inv.Status),
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入调用记录失败")
	}
	return nil
}

// Get 查询指定调用。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM workflow_invocations WHERE id = ?`, id)
	inv, err := scanInvocation(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用记录失败")
	}
	return inv, nil
}

// Claim 将 pending 调用标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Invocation, error) {
	const stmt = `UPDATE workflow_invocations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), s.now().Unix(), id, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新调用状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if inv.Done() {
			return inv, ErrCompleted
		}
		return inv, ErrConflict
	}
	return inv, nil
}

// MarkSucceeded 将调用标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result json.RawMessage) error {
	const stmt = `UPDATE workflow_invocations SET status = ?, result = ?, error_code = '', last_error = '', updated_at = ? WHERE id = ?`
	return s.update(ctx, "标记调用成功失败", stmt, string(StatusSucceeded), nullableRaw(result), s.now().Unix(), id)
}

// MarkFailed 将调用标记为失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, result json.RawMessage) error {
	const stmt = `UPDATE workflow_invocations SET status = ?, result = ?, error_code = ?, last_error = ?, updated_at = ? WHERE id = ?`
	return s.update(ctx, "标记调用失败失败", stmt, string(StatusFailed), nullableRaw(result), string(code), lastError, s.now().Unix(), id)
}

func (s *MySQLStore) update(ctx context.Context, failure, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, failure)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List 返回符合过滤条件的调用记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Invocation, error) {
	opts.applyDefaults()

	query := `SELECT ` + invocationColumns + ` FROM workflow_invocations`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用列表失败")
	}
	defer rows.Close()

	out := make([]*Invocation, 0, opts.Limit)
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调用记录失败")
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历调用记录失败")
	}
	return out, nil
}

// Stats 返回符合过滤条件的调用聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM workflow_invocations`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats Stats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row rowScanner) (*Invocation, error) {
	var (
		inv       Invocation
		trigger   string
		status    string
		override  sql.NullString
		result    sql.NullString
		lastError sql.NullString
	)
	if err := row.Scan(
		&inv.ID,
		&inv.Workflow,
		&trigger,
		&override,
		&status,
		&result,
		&inv.ErrorCode,
		&lastError,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.Trigger = Trigger(trigger)
	inv.Status = Status(status)
	if override.Valid && override.String != "" {
		inv.Override = json.RawMessage(override.String)
	}
	if result.Valid && result.String != "" {
		inv.Result = json.RawMessage(result.String)
	}
	inv.LastError = lastError.String
	return &inv, nil
}

func nullableRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Workflow != "" {
		conditions = append(conditions, "workflow = ?")
		args = append(args, opts.Workflow)
	}
	if opts.Trigger != "" {
		conditions = append(conditions, "trigger_source = ?")
		args = append(args, string(opts.Trigger))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
