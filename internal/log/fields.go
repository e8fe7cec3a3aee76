package log

import "sort"

// Field names shared by every component.
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldReferer       = "referer"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldScheduleID    = "id"
	FieldAccountID     = "account_id"
	FieldOccurrence    = "occurrence"
	FieldOutcome       = "outcome"
	FieldAmount        = "amount"
	FieldTransactionID = "transaction_id"
)

// Component names.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentEngine    = "engine"
	ComponentSchedules = "schedules"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentTrace     = "trace"
)

const (
	OpCreate  = "create"
	OpConfirm = "confirm"
)

// LogFields collects attributes for one log line.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError records err's message; nil is ignored.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithSchedule(id, accountID, amount string) LogFields {
	f[FieldScheduleID] = id
	f[FieldAccountID] = accountID
	f[FieldAmount] = amount
	return f
}

// WithAttempt adds the fields of one execution attempt. An empty
// transaction id is left out.
func (f LogFields) WithAttempt(occurrence, outcome, transactionID string) LogFields {
	f[FieldOccurrence] = occurrence
	f[FieldOutcome] = outcome
	if transactionID != "" {
		f[FieldTransactionID] = transactionID
	}
	return f
}

// WithHTTPRequest adds the request line. Empty user agent and referer are
// left out.
func (f LogFields) WithHTTPRequest(method, path, query, userAgent, referer string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if query != "" {
		f[FieldQuery] = query
	}
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	if referer != "" {
		f[FieldReferer] = referer
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice flattens the fields into slog key/value pairs, sorted by key so
// lines are stable.
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	slice := make([]any, 0, len(f)*2)
	for _, k := range keys {
		slice = append(slice, k, f[k])
	}
	return slice
}
