package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/BaSui01/agentwrap/config"
)

//go:embed migrations
var embedded embed.FS

// ErrUseAutoMigrate sqlite 没有 SQL 迁移，由 gorm AutoMigrate 建表
var ErrUseAutoMigrate = errors.New("sqlite schema is managed by gorm AutoMigrate")

const (
	migrationsTable = "schema_migrations"
	lockTimeout     = 15 * time.Second
)

// Dialect 支持迁移的数据库方言
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect 接受 database.driver 的常见写法
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

func (d Dialect) dir() (string, error) {
	switch d {
	case Postgres, MySQL:
		return "migrations/" + string(d), nil
	case SQLite:
		return "", ErrUseAutoMigrate
	}
	return "", fmt.Errorf("unsupported database driver %q", d)
}

// Source 内嵌迁移文件的 golang-migrate source
func (d Dialect) Source() (source.Driver, error) {
	dir, err := d.dir()
	if err != nil {
		return nil, err
	}
	return iofs.New(embedded, dir)
}

// DSN 由数据库配置拼出连接串。postgres 默认 sslmode=require，
// mysql 打开 multiStatements 以执行整份迁移文件。
func (d Dialect) DSN(c config.DatabaseConfig) string {
	switch d {
	case Postgres:
		mode := c.SSLMode
		if mode == "" {
			mode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, mode)
	case MySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", c.User, c.Password, c.Host, c.Port, c.Name)
	}
	return ""
}

func (d Dialect) driver(db *sql.DB) (database.Driver, error) {
	if d == MySQL {
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: migrationsTable})
	}
	return postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
}

// Migration 一个内嵌迁移及其在目标库中的状态
type Migration struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// Embedded 按版本顺序列出方言的内嵌迁移
func Embedded(d Dialect) ([]Migration, error) {
	src, err := d.Source()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var out []Migration
	v, err := src.First()
	for err == nil {
		rc, name, rerr := src.ReadUp(v)
		if rerr != nil {
			return nil, fmt.Errorf("read migration %d: %w", v, rerr)
		}
		rc.Close()
		out = append(out, Migration{Version: v, Name: name})
		v, err = src.Next(v)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return out, nil
}

// Migrator 是 CLI 依赖的迁移操作集合
type Migrator interface {
	Up(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Reset(ctx context.Context) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Plan(ctx context.Context) ([]Migration, error)
	Close() error
}

// SQLMigrator 基于 golang-migrate 的实现
type SQLMigrator struct {
	dialect Dialect
	m       *migrate.Migrate
}

var _ Migrator = (*SQLMigrator)(nil)

// Open 连接数据库并准备内嵌迁移。url 非空时覆盖由配置拼出的 DSN。
// sqlite 返回 ErrUseAutoMigrate。
func Open(ctx context.Context, c config.DatabaseConfig, url string) (*SQLMigrator, error) {
	d, err := ParseDialect(c.Driver)
	if err != nil {
		return nil, err
	}
	if d == SQLite {
		return nil, ErrUseAutoMigrate
	}
	if url == "" {
		url = d.DSN(c)
	}

	db, err := sql.Open(string(d), url)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}

	drv, err := d.driver(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%s migrate driver: %w", d, err)
	}
	return withDriver(d, drv)
}

func withDriver(d Dialect, drv database.Driver) (*SQLMigrator, error) {
	src, err := d.Source()
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, string(d), drv)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	m.LockTimeout = lockTimeout
	return &SQLMigrator{dialect: d, m: m}, nil
}

// exec 把 ctx 取消转成 GracefulStop；ErrNoChange 不算失败。
func (s *SQLMigrator) exec(ctx context.Context, fn func() error) error {
	stop := context.AfterFunc(ctx, func() {
		select {
		case s.m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLMigrator) Up(ctx context.Context) error { return s.exec(ctx, s.m.Up) }

// Steps n > 0 前进，n < 0 回退
func (s *SQLMigrator) Steps(ctx context.Context, n int) error {
	return s.exec(ctx, func() error { return s.m.Steps(n) })
}

// Reset 回滚全部迁移
func (s *SQLMigrator) Reset(ctx context.Context) error { return s.exec(ctx, s.m.Down) }

func (s *SQLMigrator) Force(_ context.Context, version int) error { return s.m.Force(version) }

// Version 当前版本；尚未迁移时为 0
func (s *SQLMigrator) Version(context.Context) (uint, bool, error) {
	v, dirty, err := s.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Plan 内嵌迁移与当前版本对照
func (s *SQLMigrator) Plan(ctx context.Context) ([]Migration, error) {
	current, dirty, err := s.Version(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := Embedded(s.dialect)
	if err != nil {
		return nil, err
	}
	for i := range plan {
		plan[i].Applied = plan[i].Version <= current
		plan[i].Dirty = dirty && plan[i].Version == current
	}
	return plan, nil
}

func (s *SQLMigrator) Close() error {
	srcErr, dbErr := s.m.Close()
	return errors.Join(srcErr, dbErr)
}
