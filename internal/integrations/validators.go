package integrations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tandemlab/tandem/pkg/schema"
)

// Impact grades how much a single difference threatens compatibility.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Diff is one field-level difference between an expected and an actual
// side effect. Sequence carries the expected call's sequence number, or
// the merged-order position for sequence diffs.
type Diff struct {
	Category Category `json:"category"`
	Field    string   `json:"field"`
	Sequence int      `json:"sequence"`
	Expected any      `json:"expected,omitempty"`
	Actual   any      `json:"actual,omitempty"`
	Impact   Impact   `json:"impact"`
	Message  string   `json:"message"`
}

// significantHeaders are the only headers compared; anything else (dates,
// request ids, tracing baggage) differs between any two runs and is ignored.
var significantHeaders = []string{
	"authorization",
	"content-type",
	"accept",
	"x-api-key",
	"x-auth-token",
}

// compareAPICalls diffs two HTTP calls field by field.
func compareAPICalls(expected, actual APICall, tolerance float64) []Diff {
	seq := expected.Sequence
	var diffs []Diff

	if expected.Endpoint != actual.Endpoint {
		diffs = append(diffs, Diff{
			Category: CategoryAPI, Field: "endpoint", Sequence: seq,
			Expected: expected.Endpoint, Actual: actual.Endpoint, Impact: ImpactHigh,
			Message: fmt.Sprintf("endpoint %q became %q", expected.Endpoint, actual.Endpoint),
		})
	}
	if !strings.EqualFold(expected.Method, actual.Method) {
		diffs = append(diffs, Diff{
			Category: CategoryAPI, Field: "method", Sequence: seq,
			Expected: expected.Method, Actual: actual.Method, Impact: ImpactHigh,
			Message: fmt.Sprintf("method %s became %s", expected.Method, actual.Method),
		})
	}
	diffs = append(diffs, compareHeaders(CategoryAPI, seq, expected.Headers, actual.Headers)...)
	if len(expected.Params) > 0 || len(actual.Params) > 0 {
		if !jsonEqual(expected.Params, actual.Params) {
			diffs = append(diffs, Diff{
				Category: CategoryAPI, Field: "params", Sequence: seq,
				Expected: expected.Params, Actual: actual.Params, Impact: ImpactMedium,
				Message: "request parameters differ",
			})
		}
	}
	if expected.Body != nil || actual.Body != nil {
		if !jsonEqual(expected.Body, actual.Body) {
			diffs = append(diffs, Diff{
				Category: CategoryAPI, Field: "body", Sequence: seq,
				Expected: expected.Body, Actual: actual.Body, Impact: ImpactMedium,
				Message: "request body differs",
			})
		}
	}
	if expected.ResponseStatus != 0 && expected.ResponseStatus != actual.ResponseStatus {
		diffs = append(diffs, Diff{
			Category: CategoryAPI, Field: "response_status", Sequence: seq,
			Expected: expected.ResponseStatus, Actual: actual.ResponseStatus, Impact: ImpactHigh,
			Message: fmt.Sprintf("response status %d became %d", expected.ResponseStatus, actual.ResponseStatus),
		})
	}
	if expected.ResponseBody != nil || actual.ResponseBody != nil {
		if !jsonEqual(expected.ResponseBody, actual.ResponseBody) {
			diffs = append(diffs, Diff{
				Category: CategoryAPI, Field: "response_body", Sequence: seq,
				Expected: expected.ResponseBody, Actual: actual.ResponseBody, Impact: ImpactMedium,
				Message: "response body differs",
			})
		}
	}
	if d := timingDiff(CategoryAPI, seq, expected.Duration, actual.Duration, tolerance); d != nil {
		diffs = append(diffs, *d)
	}
	return diffs
}

// compareDBOperations diffs two database operations field by field.
func compareDBOperations(expected, actual DBOperation, tolerance float64) []Diff {
	seq := expected.Sequence
	var diffs []Diff

	if expected.Table != actual.Table {
		diffs = append(diffs, Diff{
			Category: CategoryDB, Field: "table", Sequence: seq,
			Expected: expected.Table, Actual: actual.Table, Impact: ImpactHigh,
			Message: fmt.Sprintf("table %q became %q", expected.Table, actual.Table),
		})
	}
	if !strings.EqualFold(expected.Operation, actual.Operation) {
		diffs = append(diffs, Diff{
			Category: CategoryDB, Field: "operation", Sequence: seq,
			Expected: expected.Operation, Actual: actual.Operation, Impact: ImpactHigh,
			Message: fmt.Sprintf("operation %s became %s", expected.Operation, actual.Operation),
		})
	}
	if expected.Query != actual.Query {
		diffs = append(diffs, Diff{
			Category: CategoryDB, Field: "query", Sequence: seq,
			Expected: expected.Query, Actual: actual.Query, Impact: ImpactMedium,
			Message: "query text differs",
		})
	}
	if len(expected.Params) > 0 || len(actual.Params) > 0 {
		if !jsonEqual(expected.Params, actual.Params) {
			diffs = append(diffs, Diff{
				Category: CategoryDB, Field: "params", Sequence: seq,
				Expected: expected.Params, Actual: actual.Params, Impact: ImpactMedium,
				Message: "statement parameters differ",
			})
		}
	}
	if expected.RowsAffected != actual.RowsAffected {
		diffs = append(diffs, Diff{
			Category: CategoryDB, Field: "rows_affected", Sequence: seq,
			Expected: expected.RowsAffected, Actual: actual.RowsAffected, Impact: ImpactMedium,
			Message: fmt.Sprintf("%d rows affected instead of %d", actual.RowsAffected, expected.RowsAffected),
		})
	}
	if expected.Result != nil || actual.Result != nil {
		if !jsonEqual(expected.Result, actual.Result) {
			diffs = append(diffs, Diff{
				Category: CategoryDB, Field: "result", Sequence: seq,
				Expected: expected.Result, Actual: actual.Result, Impact: ImpactMedium,
				Message: "operation result differs",
			})
		}
	}
	if d := timingDiff(CategoryDB, seq, expected.Duration, actual.Duration, tolerance); d != nil {
		diffs = append(diffs, *d)
	}
	return diffs
}

// compareServiceCalls diffs two external service calls field by field.
func compareServiceCalls(expected, actual ServiceCall, tolerance float64) []Diff {
	seq := expected.Sequence
	var diffs []Diff

	if expected.Service != actual.Service {
		diffs = append(diffs, Diff{
			Category: CategoryService, Field: "service", Sequence: seq,
			Expected: expected.Service, Actual: actual.Service, Impact: ImpactHigh,
			Message: fmt.Sprintf("service %q became %q", expected.Service, actual.Service),
		})
	}
	if expected.Operation != actual.Operation {
		diffs = append(diffs, Diff{
			Category: CategoryService, Field: "operation", Sequence: seq,
			Expected: expected.Operation, Actual: actual.Operation, Impact: ImpactHigh,
			Message: fmt.Sprintf("operation %q became %q", expected.Operation, actual.Operation),
		})
	}
	if expected.Input != nil || actual.Input != nil {
		if !jsonEqual(expected.Input, actual.Input) {
			diffs = append(diffs, Diff{
				Category: CategoryService, Field: "input", Sequence: seq,
				Expected: expected.Input, Actual: actual.Input, Impact: ImpactMedium,
				Message: "call input differs",
			})
		}
	}
	if expected.Output != nil || actual.Output != nil {
		if !jsonEqual(expected.Output, actual.Output) {
			diffs = append(diffs, Diff{
				Category: CategoryService, Field: "output", Sequence: seq,
				Expected: expected.Output, Actual: actual.Output, Impact: ImpactMedium,
				Message: "call output differs",
			})
		}
	}
	if d := timingDiff(CategoryService, seq, expected.Duration, actual.Duration, tolerance); d != nil {
		diffs = append(diffs, *d)
	}
	return diffs
}

// compareWebhooks diffs two webhook deliveries field by field.
func compareWebhooks(expected, actual WebhookDelivery, tolerance float64) []Diff {
	seq := expected.Sequence
	var diffs []Diff

	if expected.URL != actual.URL {
		diffs = append(diffs, Diff{
			Category: CategoryWebhook, Field: "url", Sequence: seq,
			Expected: expected.URL, Actual: actual.URL, Impact: ImpactHigh,
			Message: fmt.Sprintf("url %q became %q", expected.URL, actual.URL),
		})
	}
	if expected.Event != actual.Event {
		diffs = append(diffs, Diff{
			Category: CategoryWebhook, Field: "event", Sequence: seq,
			Expected: expected.Event, Actual: actual.Event, Impact: ImpactHigh,
			Message: fmt.Sprintf("event %q became %q", expected.Event, actual.Event),
		})
	}
	if !strings.EqualFold(expected.Method, actual.Method) {
		diffs = append(diffs, Diff{
			Category: CategoryWebhook, Field: "method", Sequence: seq,
			Expected: expected.Method, Actual: actual.Method, Impact: ImpactHigh,
			Message: fmt.Sprintf("method %s became %s", expected.Method, actual.Method),
		})
	}
	diffs = append(diffs, compareHeaders(CategoryWebhook, seq, expected.Headers, actual.Headers)...)
	if expected.Payload != nil || actual.Payload != nil {
		if !jsonEqual(expected.Payload, actual.Payload) {
			diffs = append(diffs, Diff{
				Category: CategoryWebhook, Field: "payload", Sequence: seq,
				Expected: expected.Payload, Actual: actual.Payload, Impact: ImpactMedium,
				Message: "delivery payload differs",
			})
		}
	}
	if expected.ResponseStatus != 0 && expected.ResponseStatus != actual.ResponseStatus {
		diffs = append(diffs, Diff{
			Category: CategoryWebhook, Field: "response_status", Sequence: seq,
			Expected: expected.ResponseStatus, Actual: actual.ResponseStatus, Impact: ImpactHigh,
			Message: fmt.Sprintf("response status %d became %d", expected.ResponseStatus, actual.ResponseStatus),
		})
	}
	if d := timingDiff(CategoryWebhook, seq, expected.Duration, actual.Duration, tolerance); d != nil {
		diffs = append(diffs, *d)
	}
	return diffs
}

// compareHeaders checks only the significant headers, case-insensitively.
// A significant header differing or present on one side only is high
// impact; all other headers are ignored.
func compareHeaders(category Category, seq int, expected, actual map[string]string) []Diff {
	e := lowerKeys(expected)
	a := lowerKeys(actual)

	var diffs []Diff
	for _, name := range significantHeaders {
		ev, eok := e[name]
		av, aok := a[name]
		if !eok && !aok {
			continue
		}
		if eok != aok || ev != av {
			diffs = append(diffs, Diff{
				Category: category, Field: "headers." + name, Sequence: seq,
				Expected: ev, Actual: av, Impact: ImpactHigh,
				Message: fmt.Sprintf("header %s differs", name),
			})
		}
	}
	return diffs
}

func lowerKeys(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

// timingDiff flags durations outside the tolerance fraction of the
// expected duration. Zero expected duration skips the check.
func timingDiff(category Category, seq int, expected, actual schema.Millis, tolerance float64) *Diff {
	if expected <= 0 {
		return nil
	}
	delta := expected - actual
	if delta < 0 {
		delta = -delta
	}
	if float64(delta) <= tolerance*float64(expected) {
		return nil
	}
	return &Diff{
		Category: category, Field: "duration", Sequence: seq,
		Expected: expected, Actual: actual, Impact: ImpactLow,
		Message: fmt.Sprintf("duration %dms outside %.0f%% of expected %dms", actual, tolerance*100, expected),
	}
}

// jsonEqual compares two values through their canonical JSON encoding,
// which flattens numeric type differences and map iteration order.
// Unencodable values compare as unequal.
func jsonEqual(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
