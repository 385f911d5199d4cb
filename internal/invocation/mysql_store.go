package invocation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	xerrors "TokenAction-Chain/internal/errors"
	storagemysql "TokenAction-Chain/internal/storage/mysql"
)

const invocationColumns = `id, action, kind, chain, reference, amount, requested_by, message, status,
        address, reply, balance, tx_hash, tx_nonce, error_code, last_error, ambiguous, progress, created_at, updated_at`

// MySQLStore 使用 MySQL 记录调用状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接并执行迁移。
func NewMySQLStore(ctx context.Context, cfg storagemysql.Config) (*MySQLStore, error) {
	db, err := storagemysql.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := storagemysql.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

// NewMySQLStoreFromDB 基于已迁移的连接池构造存储。
func NewMySQLStoreFromDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Create 插入新的调用记录。
func (s *MySQLStore) Create(ctx context.Context, inv *Invocation) error {
	if err := validateNew(inv); err != nil {
		return err
	}
	now := time.Now().Unix()
	if inv.CreatedAt == 0 {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	const stmt = `INSERT INTO invocations
        (id, action, kind, chain, reference, amount, requested_by, message, status, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		inv.ID,
		inv.Action,
		string(inv.Kind),
		inv.Chain,
		inv.Reference,
		inv.Amount,
		inv.RequestedBy,
		inv.Message,
		string(inv.Status),
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	if err != nil {
		if storagemysql.IsDuplicateKey(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入调用记录失败")
	}
	return nil
}

// Get 查询指定调用。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)
	inv, err := scanInvocation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用失败")
	}
	return inv, nil
}

// Claim 原子地将 pending 调用切换为 running。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Invocation, error) {
	const stmt = `UPDATE invocations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), time.Now().Unix(), id, string(StatusPending))
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
		if inv.Terminal() {
			return inv, ErrCompleted
		}
		return inv, ErrConflict
	}
	return inv, nil
}

// MarkSucceeded 将调用标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, outcome Outcome, progress []string) error {
	const stmt = `UPDATE invocations SET status = ?, address = ?, reply = ?, balance = ?, tx_hash = ?, tx_nonce = ?,
        error_code = '', last_error = '', ambiguous = 0, progress = ?, updated_at = ? WHERE id = ?`

	encoded, err := marshalProgress(progress)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusSucceeded),
		outcome.Address,
		outcome.Text,
		outcome.Balance,
		outcome.TxHash,
		outcome.Nonce,
		encoded,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记调用成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed 将调用标记为失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, failure Failure) error {
	const stmt = `UPDATE invocations SET status = ?, error_code = ?, last_error = ?, ambiguous = ?, progress = ?, updated_at = ?
        WHERE id = ?`

	encoded, err := marshalProgress(failure.Progress)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed),
		string(failure.Code),
		failure.Message,
		failure.Ambiguous,
		encoded,
		time.Now().Unix(),
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记调用失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List 返回符合条件的调用。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Invocation, error) {
	opts.applyDefaults()

	query := `SELECT ` + invocationColumns + ` FROM invocations`
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
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询调用列表失败")
	}
	defer rows.Close()

	result := make([]*Invocation, 0, opts.Limit)
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析调用记录失败")
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历调用失败")
	}
	return result, nil
}

// Stats 返回符合过滤条件的调用聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(ambiguous), 0)
        FROM invocations`
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
		&stats.Ambiguous,
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
		inv                       Invocation
		kind, status              string
		message, reply, lastError sql.NullString
		progress                  sql.NullString
		outcome                   Outcome
	)
	if err := row.Scan(
		&inv.ID,
		&inv.Action,
		&kind,
		&inv.Chain,
		&inv.Reference,
		&inv.Amount,
		&inv.RequestedBy,
		&message,
		&status,
		&outcome.Address,
		&reply,
		&outcome.Balance,
		&outcome.TxHash,
		&outcome.Nonce,
		&inv.ErrorCode,
		&lastError,
		&inv.Ambiguous,
		&progress,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	inv.Kind = actionKind(kind)
	inv.Status = Status(status)
	inv.Message = message.String
	inv.LastError = lastError.String
	outcome.Text = reply.String
	if inv.Status == StatusSucceeded {
		inv.Outcome = &outcome
	}
	decoded, err := unmarshalProgress(progress)
	if err != nil {
		return nil, err
	}
	inv.Progress = decoded
	return &inv, nil
}

func marshalProgress(progress []string) (sql.NullString, error) {
	if len(progress) == 0 {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(progress)
	if err != nil {
		return sql.NullString{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码调用进度失败")
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func unmarshalProgress(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var progress []string
	if err := json.Unmarshal([]byte(raw.String), &progress); err != nil {
		return nil, fmt.Errorf("解析调用进度失败: %w", err)
	}
	return progress, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, opts.Action)
	}
	if opts.Ambiguous != nil {
		conditions = append(conditions, "ambiguous = ?")
		args = append(args, *opts.Ambiguous)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR reference LIKE ? OR message LIKE ? OR last_error LIKE ? OR address LIKE ? OR tx_hash LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern, pattern)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
