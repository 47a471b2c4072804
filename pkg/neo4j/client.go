// Package neo4j wraps the official bolt driver as the exporter's query
// runner. Connection pooling, reconnects and retries are the driver's
// business; the exporter only ever opens read sessions.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"neo4j-query-exporter/internal/querier"
)

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ querier.Runner = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j: URI is empty")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: create driver: %w", err)
	}
	return &Client{driver: driver, database: cfg.Database}, nil
}

// Ping verifies the server is reachable with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// Run executes a read query with typed parameter binding and returns its
// rows. Parameters are never interpolated into the query text.
func (c *Client) Run(ctx context.Context, query string, params map[string]any) ([]querier.Row, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session,
		func(tx neo4j.ManagedTransaction) ([]*neo4j.Record, error) {
			result, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		})
	if err != nil {
		return nil, err
	}

	rows := make([]querier.Row, 0, len(records))
	for _, record := range records {
		rows = append(rows, recordRow(record))
	}
	return rows, nil
}

func recordRow(record *neo4j.Record) querier.Row {
	row := make(querier.Row, len(record.Keys))
	for i, key := range record.Keys {
		row[key] = record.Values[i]
	}
	return row
}
