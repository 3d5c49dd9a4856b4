package surreal

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

type Client struct {
	db *surrealdb.DB
}

// identifierRegex ensures that table names and fields only contain alphanumeric characters and underscores
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateIdentifier(s string) error {
	if !identifierRegex.MatchString(s) {
		return fmt.Errorf("invalid identifier: %s", s)
	}
	return nil
}

// NormalizeHost turns a bare host into a websocket RPC URL.
func NormalizeHost(host string) string {
	if strings.HasPrefix(host, "ws://") || strings.HasPrefix(host, "wss://") ||
		strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "wss://" + host + "/rpc"
}

func NewClient(ctx context.Context, host, user, pass, namespace, database string) (*Client, error) {
	db, err := surrealdb.New(NormalizeHost(host))
	if err != nil {
		return nil, fmt.Errorf("failed to create surrealdb client: %w", err)
	}

	if _, err = db.SignIn(ctx, map[string]interface{}{
		"user": user,
		"pass": pass,
	}); err != nil {
		return nil, fmt.Errorf("failed to signin to surrealdb: %w", err)
	}

	if err = db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("failed to use surrealdb namespace/database: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() {
	c.db.Close(context.Background())
}

// Query runs sql and returns the result of its last statement.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]interface{}) (interface{}, error) {
	if vars == nil {
		vars = map[string]interface{}{}
	}
	result, err := surrealdb.Query[interface{}](ctx, c.db, sql, vars)
	if err != nil {
		return nil, err
	}
	return unwrapResult(result), nil
}

// unwrapResult digs the Result field out of the driver's []QueryResult.
func unwrapResult(result interface{}) interface{} {
	rv := reflect.ValueOf(result)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	if rv.Kind() == reflect.Struct {
		resField := rv.FieldByName("Result")
		if resField.IsValid() {
			return resField.Interface()
		}
	} else if rv.Kind() == reflect.Slice {
		if rv.Len() > 0 {
			lastElem := rv.Index(rv.Len() - 1)
			if lastElem.Kind() == reflect.Struct {
				resField := lastElem.FieldByName("Result")
				if resField.IsValid() {
					return resField.Interface()
				}
			}
		}
	}

	return result
}

// Rows runs sql and decodes the rows of its last statement into dest,
// which must be a pointer to a slice.
func (c *Client) Rows(ctx context.Context, sql string, vars map[string]interface{}, dest interface{}) error {
	result, err := c.Query(ctx, sql, vars)
	if err != nil {
		return err
	}
	return decodeRows(result, dest)
}

func decodeRows(result interface{}, dest interface{}) error {
	if result == nil {
		return nil
	}
	// Single-row statements return a map rather than a list.
	if m, ok := result.(map[string]interface{}); ok {
		result = []interface{}{m}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}

// Exec runs sql and discards the result.
func (c *Client) Exec(ctx context.Context, sql string, vars map[string]interface{}) error {
	_, err := c.Query(ctx, sql, vars)
	return err
}

// Select builds a filtered, ordered SELECT over table. Filter keys become
// equality checks bound as variables.
func Select(table string, fields []string, filter map[string]interface{}, orderBy string, limit int) (string, error) {
	if err := validateIdentifier(table); err != nil {
		return "", err
	}
	for _, f := range fields {
		if err := validateIdentifier(f); err != nil {
			return "", err
		}
	}

	whereClause, err := buildWhereClause(filter)
	if err != nil {
		return "", err
	}

	cols := "*"
	if len(fields) > 0 {
		cols = strings.Join(fields, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", cols, table, whereClause)
	if orderBy != "" {
		parts := strings.Fields(orderBy)
		if err := validateIdentifier(parts[0]); err != nil {
			return "", err
		}
		dir := "ASC"
		if len(parts) > 1 && strings.EqualFold(parts[1], "desc") {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %s %s", parts[0], dir)
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query + ";", nil
}

func buildWhereClause(filter map[string]interface{}) (string, error) {
	if len(filter) == 0 {
		return "true", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if err := validateIdentifier(k); err != nil {
			return "", err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, len(keys))
	for i, k := range keys {
		clauses[i] = fmt.Sprintf("%s = $%s", k, k)
	}
	return strings.Join(clauses, " AND "), nil
}
