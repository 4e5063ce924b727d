// Package sqlpoll implements a feed.Source that polls a SQL database and pushes
// a snapshot whenever the result of a channel's query changes.
package sqlpoll

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"        // sqlite3 driver for local and test databases
	_ "github.com/rqlite/gorqlite/stdlib" // rqlite driver for the managed database
	"go.uber.org/zap"

	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

// ArgPrincipal names the principal in Query.Args. Any other name is looked up
// in the target's params.
const ArgPrincipal = "principal"

// Query is the statement polled for one channel.
type Query struct {
	SQL  string
	Args []string
}

// Config configures a Source.
type Config struct {
	PollInterval time.Duration
	QueryTimeout time.Duration
	Queries      map[string]Query // channel -> query
}

// Source polls one query per subscribed target.
type Source struct {
	db     *sql.DB
	cfg    Config
	logger *logging.ColoredLogger
}

// Open opens a database with the rqlite or sqlite3 driver and checks it is reachable.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach %s database: %w", driver, err)
	}
	return db, nil
}

// New creates a Source over db.
func New(db *sql.DB, cfg Config, logger *logging.ColoredLogger) *Source {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	return &Source{db: db, cfg: cfg, logger: logging.OrNop(logger)}
}

// Subscribe runs the channel query once and pushes its rows before returning,
// so a failing query surfaces as an attach error. Polling continues in the
// background until ctx is done or the returned CancelFunc is called.
func (s *Source) Subscribe(ctx context.Context, target feed.Target, sink feed.Sink) (feed.CancelFunc, error) {
	q, ok := s.cfg.Queries[target.Channel]
	if !ok {
		return nil, ferrors.NewNotFoundError("channel", target.Channel)
	}
	args, err := bindArgs(q, target)
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, q.SQL, args)
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint(rows)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &poller{source: s, target: target, sql: q.SQL, args: args, sink: sink, last: fp}
	sink.Push(rows)
	go p.run(ctx)

	s.logger.ComponentDebug(logging.ComponentSource, "SQL poller started",
		zap.String("target", target.String()),
		zap.Duration("interval", s.cfg.PollInterval))
	return feed.CancelFunc(cancel), nil
}

func (s *Source) query(ctx context.Context, query string, args []any) (feed.Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	out := make(feed.Rows, 0)
	for rows.Next() {
		row, err := scanRowToMap(rows, cols)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

// poller pushes from a single goroutine, which keeps sink calls ordered.
type poller struct {
	source *Source
	target feed.Target
	sql    string
	args   []any
	sink   feed.Sink
	last   []byte
	failed bool
}

func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.source.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.source.logger.ComponentDebug(logging.ComponentSource, "SQL poller stopped",
				zap.String("target", p.target.String()))
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *poller) poll(ctx context.Context) {
	rows, err := p.source.query(ctx, p.sql, p.args)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		if !p.failed {
			p.source.logger.ComponentWarn(logging.ComponentSource, "SQL poll failed",
				zap.String("target", p.target.String()),
				zap.Error(err))
		}
		p.failed = true
		p.sink.Fail(err)
		return
	}

	fp, err := fingerprint(rows)
	if err != nil {
		p.sink.Fail(err)
		return
	}
	if !p.failed && bytes.Equal(fp, p.last) {
		return
	}
	p.failed = false
	p.last = fp
	p.sink.Push(rows)
}

func bindArgs(q Query, target feed.Target) ([]any, error) {
	args := make([]any, 0, len(q.Args))
	for _, name := range q.Args {
		if name == ArgPrincipal {
			args = append(args, target.Principal)
			continue
		}
		v, ok := target.Params[name]
		if !ok {
			return nil, ferrors.NewValidationError(name, fmt.Sprintf("missing feed parameter %q for channel %s", name, target.Channel), nil)
		}
		args = append(args, v)
	}
	return args, nil
}

func fingerprint(rows feed.Rows) ([]byte, error) {
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rows: %w", err)
	}
	return b, nil
}
