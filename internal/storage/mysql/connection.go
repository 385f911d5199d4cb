package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	xerrors "TokenAction-Chain/internal/errors"

	gomysql "github.com/go-sql-driver/mysql"
)

// DriverName is the database/sql driver registered by go-sql-driver/mysql.
const DriverName = "mysql"

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// Driver 默认为 mysql，测试中可替换为其他已注册的驱动。
	Driver string
}

// Open 建立连接池并执行一次 Ping。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, xerrors.New(xerrors.CodeNotConfigured, "MySQL DSN 不能为空")
	}
	driverName := cfg.Driver
	if driverName == "" {
		driverName = DriverName
	}
	if driverName == DriverName {
		if _, err := gomysql.ParseDSN(dsn); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "MySQL DSN 格式无效")
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

// IsDuplicateKey reports whether err is a MySQL duplicate entry error.
func IsDuplicateKey(err error) bool {
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
