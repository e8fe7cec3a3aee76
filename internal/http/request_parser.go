package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ricorrenti/internal/core"
)

const maxBodyBytes = 1 << 20

// badRequestError marks a malformed request, as opposed to a well-formed
// request that fails domain validation.
type badRequestError struct {
	msg string
}

func (e badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

// DecodeDefinition reads a schedule definition from a JSON body. Unknown
// fields and trailing data are rejected; free text is sanitized.
func DecodeDefinition(r *http.Request) (core.ScheduleDefinition, error) {
	var body struct {
		core.ScheduleDefinition
		Amount json.RawMessage `json:"amount"`
	}
	if r.Body == nil {
		return body.ScheduleDefinition, badRequest("request body is required")
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return body.ScheduleDefinition, badRequest("request body is required")
		}
		return body.ScheduleDefinition, badRequest("invalid JSON body: %v", err)
	}
	if dec.More() {
		return body.ScheduleDefinition, badRequest("invalid JSON body: unexpected data after object")
	}

	def := body.ScheduleDefinition
	amount, err := parseAmount(body.Amount)
	if err != nil {
		return def, err
	}
	def.Amount = amount

	def.Description = sanitizeInput(def.Description)
	def.Payee = sanitizeInput(def.Payee)
	def.AccountID = strings.TrimSpace(def.AccountID)
	def.CategoryID = strings.TrimSpace(def.CategoryID)
	for i, tag := range def.Tags {
		def.Tags[i] = sanitizeInput(tag)
	}
	return def, nil
}

// parseAmount accepts the amount as a JSON string or number. A missing or
// null amount stays zero and fails validation later.
func parseAmount(raw json.RawMessage) (core.Money, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return core.Money{}, nil
	}
	switch text[0] {
	case '"':
		if err := json.Unmarshal(raw, &text); err != nil {
			return core.Money{}, badRequest("invalid amount: %v", err)
		}
	case '{', '[', 't', 'f':
		return core.Money{}, badRequest("invalid amount: expected a string or number")
	}
	m, err := core.ParseMoney(text)
	if err != nil {
		return core.Money{}, fmt.Errorf("amount %q: %w", text, err)
	}
	return m, nil
}

// ParseFilter builds a list filter from query parameters.
func ParseFilter(query url.Values) (core.ScheduleFilter, error) {
	f := core.ScheduleFilter{
		AccountID:  strings.TrimSpace(query.Get("accountId")),
		CategoryID: strings.TrimSpace(query.Get("categoryId")),
	}
	if v := strings.TrimSpace(query.Get("status")); v != "" {
		f.Status = core.Status(v)
		if !f.Status.Valid() {
			return f, badRequest("invalid status filter %q", v)
		}
	}
	if v := strings.TrimSpace(query.Get("frequency")); v != "" {
		f.Frequency = core.Frequency(v)
		if !f.Frequency.Valid() {
			return f, badRequest("invalid frequency filter %q", v)
		}
	}
	return f, nil
}

// ParseHorizonDays reads the "days" parameter, falling back to def.
// Negative values are passed through for the query to reject.
func ParseHorizonDays(query url.Values, def int) (int, error) {
	v := strings.TrimSpace(query.Get("days"))
	if v == "" {
		return def, nil
	}
	days, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("days must be an integer, got %q", v)
	}
	return days, nil
}

// sanitizeInput removes control characters except tab and newlines, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
