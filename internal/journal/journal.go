package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"bitget-trader/internal/config"
)

// Entry 为一条审计流水。
type Entry struct {
	Command string
	Kind    string
	Symbol  string
	Sandbox bool
	Outcome string
	Err     string
}

// Journal 把每次指令及其结论落到本地 SQLite。
// 只写不读：编排过程中的一切状态都从交易所实时查询重建，
// 流水只服务于事后排查。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open 根据配置初始化流水库。未启用时返回 nil，调用方按
// no-op 处理。
func Open(cfg config.JournalConfig, logger *zap.Logger) (*Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := cfg.Path
	if cfg.InMemory {
		dsn = ":memory:"
	} else if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建目录 %q 失败: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", dsn))
	if err != nil {
		return nil, fmt.Errorf("打开流水库失败: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS command_log (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    ts         TEXT NOT NULL,
    command    TEXT NOT NULL,
    kind       TEXT NOT NULL,
    symbol     TEXT,
    sandbox    INTEGER NOT NULL,
    outcome    TEXT,
    error      TEXT
);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("初始化流水表失败: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Record 写入一条流水。失败只记日志，绝不影响交易路径。
func (j *Journal) Record(ctx context.Context, entry Entry) {
	if j == nil || j.db == nil {
		return
	}

	sandbox := 0
	if entry.Sandbox {
		sandbox = 1
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO command_log (ts, command, kind, symbol, sandbox, outcome, error) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339),
		entry.Command, entry.Kind, entry.Symbol, sandbox, entry.Outcome, entry.Err,
	)
	if err != nil {
		j.logger.Warn("写入审计流水失败", zap.Error(err))
	}
}

// Close 关闭流水库。
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
