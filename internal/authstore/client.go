// Package authstore reads full rows from the source-of-truth relational
// store. It is consulted only on the applier's conflict-repair path and is
// strictly read-only.
package authstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/profcard/syncworker/internal/userdb"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errMissingDSN = errors.New("authstore: dsn is required")

// tableNames maps the changelog's logical table names onto the authoritative
// schema. Anything else is rejected before touching the database.
var tableNames = map[string]string{
	userdb.TableProfile:          "TB_PROFILE",
	userdb.TableCard:             "TB_CARD",
	userdb.TableCardSubscription: "TB_CARD_SUBSCRIPTION",
}

// Client implements userdb.RowSource over a MySQL connection.
type Client struct {
	db *gorm.DB
}

// NewClient opens the authoritative store connection.
func NewClient(dsn string) (*Client, error) {
	if dsn == "" {
		return nil, errMissingDSN
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("authstore: opening connection: %w", err)
	}
	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already-open handle; used by tests.
func NewClientFromDB(db *gorm.DB) *Client {
	return &Client{db: db}
}

// FetchRow returns the complete current state of one row, keyed by column
// name, or found=false when the row does not exist upstream.
func (c *Client) FetchRow(ctx context.Context, table string, rowID int64) (map[string]any, bool, error) {
	name, ok := tableNames[table]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", userdb.ErrUnknownTable, table)
	}

	row := map[string]any{}
	err := c.db.WithContext(ctx).Table(name).Where("uuid = ?", rowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("authstore: fetching %s row %d: %w", table, rowID, err)
	}
	return row, true, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
