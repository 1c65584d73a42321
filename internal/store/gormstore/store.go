package gormstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"aegis/internal/store"
	"aegis/internal/store/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements store.Store on top of gorm (SQLite or PostgreSQL).
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	}
}

// OpenSQLite 打开（或创建）SQLite 文件库，开启 WAL 与 busy_timeout。
//
// 不使用 cache=shared：共享缓存下并发事务会得到表级 SQLITE_LOCKED，而不是等待 busy_timeout。
// 写事务以 BEGIN IMMEDIATE 开启，连接池只保留一个连接，进程内的写入者因此串行。
func OpenSQLite(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return New(db)
}

// PostgresOptions describes a PostgreSQL connection.
type PostgresOptions struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
}

func (opt PostgresOptions) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}
	host := opt.Host
	if host == "" {
		host = "localhost"
	}
	port := opt.Port
	if port == 0 {
		port = 5432
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := &url.URL{Scheme: "postgres", Host: fmt.Sprintf("%s:%d", host, port)}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// OpenPostgres 连接 PostgreSQL，适合多进程部署共享同一组合状态。
func OpenPostgres(opt PostgresOptions) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(opt.dsn()), gormConfig())
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New 在已有连接上迁移表结构。
func New(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	if err := db.AutoMigrate(model.All()...); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// GormDB exposes the underlying *gorm.DB (used by the SQL message bus).
func (s *GormStore) GormDB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// SQLDB exposes the underlying *sql.DB.
func (s *GormStore) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

func (s *GormStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{tx: tx}, nil
}

func (s *GormStore) Portfolio() store.PortfolioRepository       { return &portfolioRepo{db: s.db} }
func (s *GormStore) Intents() store.IntentLedger                { return &intentRepo{db: s.db} }
func (s *GormStore) Strategies() store.StrategyConfigRepository { return &strategyRepo{db: s.db} }
func (s *GormStore) Reports() store.TradeReportRepository       { return &reportRepo{db: s.db} }

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormUnitOfWork struct {
	tx   *gorm.DB
	done bool
}

func (u *gormUnitOfWork) Portfolio() store.PortfolioRepository {
	return &portfolioRepo{db: u.tx, inTx: true}
}

func (u *gormUnitOfWork) Intents() store.IntentLedger {
	return &intentRepo{db: u.tx}
}

func (u *gormUnitOfWork) Strategies() store.StrategyConfigRepository {
	return &strategyRepo{db: u.tx, inTx: true}
}

func (u *gormUnitOfWork) Reports() store.TradeReportRepository {
	return &reportRepo{db: u.tx}
}

func (u *gormUnitOfWork) Commit() error {
	if u.done {
		return fmt.Errorf("unit of work already finished")
	}
	u.done = true
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback().Error
}
