// Package google writes materialized transactions to a Google Sheets ledger,
// one sheet per year.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"ricorrenti/internal/core"
	"ricorrenti/internal/ports"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const defaultLedgerSheet = "Ledger"

// ledgerColumns is the header row of every ledger sheet. The transaction id
// in the last column identifies rows already written.
var ledgerColumns = []any{
	"Date", "Description", "Payee", "Amount", "Type",
	"Category", "Account", "Tags", "Schedule", "Transaction",
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// ledgerBase is the sheet name without year; the transaction year is prefixed.
	ledgerBase string
}

// Ensure interface conformance
var _ ports.LedgerWriter = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_SHEET_NAME (default "Ledger")
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	creds, err := serviceAccountCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return New(ctx, spreadsheetID, os.Getenv("GOOGLE_SHEET_NAME"),
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// New creates a client for the given spreadsheet. An empty sheet name uses
// the default "Ledger".
func New(ctx context.Context, spreadsheetID, sheetName string, opts ...goption.ClientOption) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName = strings.TrimSpace(sheetName)
	if sheetName == "" {
		sheetName = defaultLedgerSheet
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created successfully",
		"spreadsheet_id", spreadsheetID,
		"sheet", sheetName)

	return &Client{svc: svc, spreadsheetID: spreadsheetID, ledgerBase: sheetName}, nil
}

// serviceAccountCredentials reads Service Account credentials from
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func serviceAccountCredentials(ctx context.Context) ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))

	// Also check the standard Google Cloud environment variable
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// AppendTransaction implements ports.LedgerWriter. A transaction already
// present in the sheet is not written again; its existing range is returned.
func (c *Client) AppendTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if tx.ID == "" || tx.Date.IsEmpty() {
		return "", errors.New("transaction id and date are required")
	}

	sheet := yearPrefixedName(c.ledgerBase, tx.Date.Year())
	ids, err := c.readTransactionIDs(ctx, sheet)
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest {
		// Unknown range: first transaction of the year.
		if err := c.addSheet(ctx, sheet); err != nil {
			return "", err
		}
		ids, err = nil, nil
	}
	if err != nil {
		return "", err
	}
	if row, ok := findRow(ids, tx.ID); ok {
		ref := rowRange(sheet, row)
		slog.InfoContext(ctx, "Transaction already in ledger", "transaction_id", tx.ID, "ref", ref)
		return ref, nil
	}

	values := [][]any{}
	if len(ids) == 0 {
		values = append(values, ledgerColumns)
	}
	values = append(values, ledgerRow(tx))

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, quoteSheet(sheet)+"!A:J",
		&gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := rowRange(sheet, len(ids)+len(values))
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

func (c *Client) addSheet(ctx context.Context, sheet string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", sheet, err)
	}
	slog.InfoContext(ctx, "Created ledger sheet", "sheet", sheet)
	return nil
}

// readTransactionIDs returns column J of the sheet, one entry per row.
func (c *Client) readTransactionIDs(ctx context.Context, sheet string) ([]string, error) {
	rng := quoteSheet(sheet) + "!J:J"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			out[i] = strings.TrimSpace(fmt.Sprint(row[0]))
		}
	}
	return out, nil
}

func ledgerRow(tx core.Transaction) []any {
	amount := tx.Amount
	if tx.Type == core.Expense {
		amount = amount.Negated()
	}
	return []any{
		tx.Date.String(),
		tx.Description,
		tx.Payee,
		amount.StringFixed(2),
		string(tx.Type),
		tx.CategoryID,
		tx.AccountID,
		strings.Join(tx.Tags, ", "),
		tx.ScheduledTransactionID,
		tx.ID,
	}
}

// findRow returns the 1-based row holding id.
func findRow(ids []string, id string) (int, bool) {
	for i, v := range ids {
		if v == id {
			return i + 1, true
		}
	}
	return 0, false
}

func rowRange(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:J%d", quoteSheet(sheet), row, row)
}

// quoteSheet quotes sheet names containing spaces for A1 notation.
func quoteSheet(name string) string {
	if strings.ContainsAny(name, " '!") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
