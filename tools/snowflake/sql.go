// Package snowflake executes SQL statements over the Snowflake SQL REST API
// v2, authenticating with a key-pair JWT.
package snowflake

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/hookflow/plugin"
	snowflakeauth "github.com/BaSui01/hookflow/providers/snowflake"
)

const tokenLifetime = 5 * time.Minute

// Client runs statements against one Snowflake account.
type Client struct {
	account string
	user    string
	key     *rsa.PrivateKey
	http    *http.Client
	logger  *zap.Logger

	baseOverride string
}

// NewClient builds a client from account identifier, user name and the
// user's registered RSA private key in PEM form.
func NewClient(account, user string, keyPEM []byte, logger *zap.Logger) (*Client, error) {
	if account == "" || user == "" {
		return nil, plugin.NewError(plugin.ErrCredentialsInvalid,
			"account and user are required").WithProvider("snowflake")
	}
	key, err := snowflakeauth.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return &Client{
		account: account,
		user:    user,
		key:     key,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger.With(zap.String("tool", "snowflake")),
	}, nil
}

func (c *Client) base() string {
	if c.baseOverride != "" {
		return c.baseOverride
	}
	return fmt.Sprintf("https://%s.snowflakecomputing.com", c.account)
}

// StatementRequest describes one statement execution.
type StatementRequest struct {
	Statement string `json:"statement"`
	Timeout   int    `json:"timeout,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
	Database  string `json:"database,omitempty"`
	Schema    string `json:"schema,omitempty"`
}

type statementResponse struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	StatementHandle   string `json:"statementHandle"`
	ResultSetMetaData struct {
		NumRows int64 `json:"numRows"`
		RowType []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"rowType"`
	} `json:"resultSetMetaData"`
	Data [][]*string `json:"data"`
}

// Result is the normalized outcome of a statement.
type Result struct {
	StatementHandle string           `json:"statement_handle"`
	Columns         []string         `json:"columns"`
	Rows            []map[string]any `json:"rows"`
	RowCount        int64            `json:"row_count"`
}

// Execute runs one statement and returns its rows keyed by column name.
// NULL values come back as nil.
func (c *Client) Execute(ctx context.Context, req StatementRequest) (*Result, error) {
	if strings.TrimSpace(req.Statement) == "" {
		return nil, plugin.NewError(plugin.ErrBadRequest, "statement is required").WithProvider("snowflake")
	}

	token, err := snowflakeauth.KeyPairToken(c.account, c.user, c.key, tokenLifetime)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "encode statement").WithCause(err).WithProvider("snowflake")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base()+"/api/v2/statements", bytes.NewReader(payload))
	if err != nil {
		return nil, plugin.NewError(plugin.ErrBadRequest, "build request").WithCause(err).WithProvider("snowflake")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("X-Snowflake-Authorization-Token-Type", "KEYPAIR_JWT")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrServerUnavailable, "request failed").WithCause(err).WithProvider("snowflake")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, plugin.NewError(plugin.ErrInvokeError, "read response").WithCause(err).WithProvider("snowflake")
	}

	var decoded statementResponse
	if jsonErr := json.Unmarshal(body, &decoded); jsonErr != nil && resp.StatusCode < 400 {
		return nil, plugin.NewError(plugin.ErrInvokeError, "decode response").WithCause(jsonErr).WithProvider("snowflake")
	}
	if resp.StatusCode >= 400 {
		msg := decoded.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, plugin.MapHTTPStatus(resp.StatusCode, msg, "snowflake")
	}

	columns := make([]string, 0, len(decoded.ResultSetMetaData.RowType))
	for _, col := range decoded.ResultSetMetaData.RowType {
		columns = append(columns, col.Name)
	}

	rows := make([]map[string]any, 0, len(decoded.Data))
	for _, raw := range decoded.Data {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(raw) && raw[i] != nil {
				row[col] = *raw[i]
			} else {
				row[col] = nil
			}
		}
		rows = append(rows, row)
	}

	c.logger.Info("statement executed",
		zap.String("handle", decoded.StatementHandle), zap.Int64("rows", decoded.ResultSetMetaData.NumRows))
	return &Result{
		StatementHandle: decoded.StatementHandle,
		Columns:         columns,
		Rows:            rows,
		RowCount:        decoded.ResultSetMetaData.NumRows,
	}, nil
}

// markdownTable renders up to limit rows for human consumption.
func markdownTable(result *Result, limit int) string {
	if len(result.Rows) == 0 {
		return "query returned no rows"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d rows\n\n", result.RowCount)
	sb.WriteString("| " + strings.Join(result.Columns, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(result.Columns)) + "\n")

	shown := len(result.Rows)
	if shown > limit {
		shown = limit
	}
	for _, row := range result.Rows[:shown] {
		cells := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			if v := row[col]; v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
	}
	if len(result.Rows) > shown {
		fmt.Fprintf(&sb, "\n... and %d more rows\n", len(result.Rows)-shown)
	}
	return sb.String()
}

// SQLTool executes a SQL statement and yields the rows as JSON plus a
// Markdown table preview.
type SQLTool struct {
	client *Client
}

// NewSQLTool wraps a client into the SQL execution tool.
func NewSQLTool(client *Client) *SQLTool {
	return &SQLTool{client: client}
}

func (t *SQLTool) Name() string { return "snowflake_sql" }

func (t *SQLTool) Invoke(ctx context.Context, params map[string]any) ([]plugin.Message, error) {
	result, err := t.client.Execute(ctx, StatementRequest{
		Statement: plugin.ParamString(params, "sql_query"),
		Warehouse: plugin.ParamString(params, "warehouse"),
		Database:  plugin.ParamString(params, "database"),
		Schema:    plugin.ParamString(params, "schema"),
	})
	if err != nil {
		return nil, err
	}
	return []plugin.Message{
		plugin.NewJSONMessage(result),
		plugin.NewTextMessage(markdownTable(result, 20)),
	}, nil
}
