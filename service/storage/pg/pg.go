package pg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PPRelay/global/config"
	"PPRelay/module/message"
	"PPRelay/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

// Open 建连接池并 Ping
func Open(ctx context.Context, c config.PostgresConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse postgres dsn")
	}
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errs.WrapMsg(err, "create pgx pool")
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "postgres ping", "host", pc.ConnConfig.Host)
	}
	return pool, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// History 房间消息写入 Postgres；表不存在时自动创建
type History struct {
	db        execer
	table     string
	insertSQL string
}

func NewHistory(ctx context.Context, db execer, table string) (*History, error) {
	if table == "" {
		table = "room_messages"
	}
	ident := quoteTable(table)
	if _, err := db.Exec(ctx, createTableSQL(ident)); err != nil {
		return nil, errs.WrapMsg(err, "ensure history table", "table", table)
	}
	return &History{
		db:    db,
		table: table,
		insertSQL: fmt.Sprintf(`INSERT INTO %s (id, gateway_id, conn_id, room_id, event, sender, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, ident),
	}, nil
}

func (h *History) Append(ctx context.Context, rec *message.Record) error {
	_, err := h.db.Exec(ctx, h.insertSQL,
		rec.ID, rec.GatewayID, rec.ConnID, rec.RoomID, rec.Event, rec.From, rec.Message, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil
		}
		return errs.WrapMsg(err, "insert room message", "table", h.table, "id", rec.ID)
	}
	return nil
}

// quoteTable 支持 schema.table 写法
func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func createTableSQL(ident string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         TEXT PRIMARY KEY,
	gateway_id TEXT NOT NULL,
	conn_id    TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	event      TEXT NOT NULL,
	sender     TEXT NOT NULL,
	message    TEXT,
	created_at TIMESTAMPTZ NOT NULL
)`, ident)
}
