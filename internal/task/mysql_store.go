package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"TravelAgent-Chain/internal/agent"
	xerrors "TravelAgent-Chain/internal/errors"
)

const runColumns = `id, input, referrer_wallet, chat_history, status, attempts, max_retries, last_error, error_code, result, created_at, updated_at`

// MySQLStore 使用 agent_runs 表记录运行状态，表结构由存储层迁移创建。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 基于已经完成迁移的连接创建存储。
func NewMySQLStore(db *sql.DB) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 MySQL 连接")
	}
	return &MySQLStore{db: db, now: time.Now}, nil
}

// Create 插入新的运行记录。
func (s *MySQLStore) Create(ctx context.Context, run *Run) error {
	if run == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run 不能为空")
	}
	if strings.TrimSpace(run.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行 ID 不能为空")
	}
	history, err := marshalHistory(run.ChatHistory)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码对话历史失败")
	}
	now := s.now().Unix()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	const stmt = `INSERT INTO agent_runs
        (id, input, referrer_wallet, chat_history, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		run.ID,
		run.Input,
		run.Referrer,
		history,
		string(run.Status),
		run.Attempts,
		run.MaxRetries,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRunConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入运行记录失败")
	}
	return nil
}

// Get 查询指定运行。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM agent_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行记录失败")
	}
	return run, nil
}

// Claim 将运行标记为执行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Run, error) {
	const stmt = `UPDATE agent_runs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusRunning),
		s.now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新运行状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	run, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return run, nil
	}
	switch {
	case run.Status == StatusSucceeded:
		return run, ErrRunCompleted
	case run.Status != StatusRunning && run.Attempts >= run.MaxRetries:
		return run, ErrRunExhausted
	default:
		return run, ErrRunConflict
	}
}

// MarkSucceeded 将运行标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result agent.Outcome) error {
	encoded, err := marshalOutcome(&result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码运行结果失败")
	}
	const stmt = `UPDATE agent_runs SET status = ?, result = ?, last_error = '', error_code = '', updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(StatusSucceeded), encoded, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记运行成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// MarkFailed 将运行标记为失败，terminal 时把尝试次数推到上限。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, result *agent.Outcome, terminal bool) error {
	encoded, err := marshalOutcome(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码运行结果失败")
	}
	stmt := `UPDATE agent_runs SET status = ?, last_error = ?, error_code = ?, result = COALESCE(?, result), updated_at = ? WHERE id = ?`
	if terminal {
		stmt = `UPDATE agent_runs SET status = ?, last_error = ?, error_code = ?, result = COALESCE(?, result), attempts = max_retries, updated_at = ? WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, stmt, string(StatusFailed), lastError, string(code), encoded, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记运行失败状态出错")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// List 返回符合过滤条件的运行。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	opts.applyDefaults()
	query := `SELECT ` + runColumns + ` FROM agent_runs`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行列表失败")
	}
	defer rows.Close()

	runs := make([]*Run, 0, opts.Limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析运行记录失败")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历运行记录失败")
	}
	return runs, nil
}

// Stats 返回符合过滤条件的聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (RunStats, error) {
	opts.applyDefaults()
	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM agent_runs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := append([]any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}, filterArgs...)

	var stats RunStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return RunStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行统计失败")
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

func scanRun(row rowScanner) (*Run, error) {
	var (
		run       Run
		status    string
		history   sql.NullString
		lastError sql.NullString
		result    sql.NullString
	)
	if err := row.Scan(
		&run.ID,
		&run.Input,
		&run.Referrer,
		&history,
		&status,
		&run.Attempts,
		&run.MaxRetries,
		&lastError,
		&run.ErrorCode,
		&result,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.LastError = lastError.String
	if history.Valid && strings.TrimSpace(history.String) != "" {
		if err := json.Unmarshal([]byte(history.String), &run.ChatHistory); err != nil {
			return nil, fmt.Errorf("解析对话历史失败: %w", err)
		}
	}
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var outcome agent.Outcome
		if err := json.Unmarshal([]byte(result.String), &outcome); err != nil {
			return nil, fmt.Errorf("解析运行结果失败: %w", err)
		}
		run.Result = &outcome
	}
	return &run, nil
}

func marshalHistory(history []string) (sql.NullString, error) {
	if len(history) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func marshalOutcome(outcome *agent.Outcome) (sql.NullString, error) {
	if outcome == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, len(opts.Statuses)+2)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.Referrer != "" {
		conditions = append(conditions, "LOWER(referrer_wallet) = LOWER(?)")
		args = append(args, opts.Referrer)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
