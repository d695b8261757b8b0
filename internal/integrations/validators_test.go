package integrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- API call validation ---

func TestCompareAPICallsIdentical(t *testing.T) {
	call := APICall{
		Sequence: 1, Endpoint: "/users", Method: "GET",
		Headers:        map[string]string{"Authorization": "Bearer tok", "X-Request-Id": "abc"},
		Params:         map[string]any{"page": 1},
		ResponseStatus: 200,
		Duration:       120,
	}
	assert.Empty(t, compareAPICalls(call, call, DefaultTimingTolerance))
}

func TestCompareAPICallMethodChange(t *testing.T) {
	expected := APICall{Sequence: 3, Endpoint: "/users", Method: "GET"}
	actual := APICall{Sequence: 3, Endpoint: "/users", Method: "POST"}

	diffs := compareAPICalls(expected, actual, DefaultTimingTolerance)
	require.Len(t, diffs, 1, "a method change is exactly one difference")
	assert.Equal(t, "method", diffs[0].Field)
	assert.Equal(t, ImpactHigh, diffs[0].Impact)
	assert.Equal(t, 3, diffs[0].Sequence)
	assert.Equal(t, "GET", diffs[0].Expected)
	assert.Equal(t, "POST", diffs[0].Actual)
}

func TestCompareAPICallEndpointAndStatus(t *testing.T) {
	expected := APICall{Endpoint: "/users", Method: "GET", ResponseStatus: 200}
	actual := APICall{Endpoint: "/accounts", Method: "GET", ResponseStatus: 500}

	diffs := compareAPICalls(expected, actual, DefaultTimingTolerance)
	require.Len(t, diffs, 2)
	byField := diffsByField(diffs)
	assert.Equal(t, ImpactHigh, byField["endpoint"].Impact)
	assert.Equal(t, ImpactHigh, byField["response_status"].Impact)

	// An unstated expected status accepts anything.
	expected.ResponseStatus = 0
	expected.Endpoint = "/accounts"
	assert.Empty(t, compareAPICalls(expected, actual, DefaultTimingTolerance))
}

func TestCompareAPICallMethodCaseInsensitive(t *testing.T) {
	expected := APICall{Endpoint: "/users", Method: "get"}
	actual := APICall{Endpoint: "/users", Method: "GET"}
	assert.Empty(t, compareAPICalls(expected, actual, DefaultTimingTolerance))
}

// --- Header validation ---

func TestCompareHeadersSignificantOnly(t *testing.T) {
	expected := map[string]string{
		"Content-Type": "application/json",
		"X-Request-Id": "run-1",
	}
	actual := map[string]string{
		"content-type": "application/xml",
		"X-Request-Id": "run-2",
	}

	diffs := compareHeaders(CategoryAPI, 1, expected, actual)
	require.Len(t, diffs, 1, "only allow-listed headers are compared")
	assert.Equal(t, "headers.content-type", diffs[0].Field)
	assert.Equal(t, ImpactHigh, diffs[0].Impact)
}

func TestCompareHeadersCaseInsensitiveNames(t *testing.T) {
	expected := map[string]string{"Authorization": "Bearer tok"}
	actual := map[string]string{"authorization": "Bearer tok"}
	assert.Empty(t, compareHeaders(CategoryAPI, 1, expected, actual))
}

func TestCompareHeadersMissingOnOneSide(t *testing.T) {
	expected := map[string]string{"X-Api-Key": "k1"}

	diffs := compareHeaders(CategoryWebhook, 2, expected, nil)
	require.Len(t, diffs, 1)
	assert.Equal(t, "headers.x-api-key", diffs[0].Field)
	assert.Equal(t, ImpactHigh, diffs[0].Impact)
}

// --- Payload equality ---

func TestCompareParamsNumericWidening(t *testing.T) {
	expected := APICall{Endpoint: "/a", Method: "GET", Params: map[string]any{"page": 1}}
	actual := APICall{Endpoint: "/a", Method: "GET", Params: map[string]any{"page": float64(1)}}
	assert.Empty(t, compareAPICalls(expected, actual, DefaultTimingTolerance),
		"int and float of the same value compare equal")
}

func TestCompareParamsDiffer(t *testing.T) {
	expected := APICall{Endpoint: "/a", Method: "GET", Params: map[string]any{"page": 1}}
	actual := APICall{Endpoint: "/a", Method: "GET", Params: map[string]any{"page": 2}}

	diffs := compareAPICalls(expected, actual, DefaultTimingTolerance)
	require.Len(t, diffs, 1)
	assert.Equal(t, "params", diffs[0].Field)
	assert.Equal(t, ImpactMedium, diffs[0].Impact)
}

func TestCompareBodyNilVersusEmpty(t *testing.T) {
	expected := APICall{Endpoint: "/a", Method: "POST"}
	actual := APICall{Endpoint: "/a", Method: "POST", Params: map[string]any{}}
	assert.Empty(t, compareAPICalls(expected, actual, DefaultTimingTolerance),
		"absent and empty params are the same thing")
}

// --- Timing validation ---

func TestTimingWithinTolerance(t *testing.T) {
	assert.Nil(t, timingDiff(CategoryAPI, 1, 1000, 1400, 0.5))
	assert.Nil(t, timingDiff(CategoryAPI, 1, 1000, 1500, 0.5), "boundary is inclusive")
	assert.Nil(t, timingDiff(CategoryAPI, 1, 1000, 600, 0.5))
	assert.Nil(t, timingDiff(CategoryAPI, 1, 0, 5000, 0.5), "no expectation, no check")
}

func TestTimingOutsideTolerance(t *testing.T) {
	d := timingDiff(CategoryDB, 4, 1000, 1501, 0.5)
	require.NotNil(t, d)
	assert.Equal(t, "duration", d.Field)
	assert.Equal(t, ImpactLow, d.Impact)
	assert.Contains(t, d.Message, "50%")

	d = timingDiff(CategoryDB, 4, 1000, 200, 0.5)
	require.NotNil(t, d, "too fast is as suspicious as too slow")
}

// --- DB operation validation ---

func TestCompareDBOperations(t *testing.T) {
	expected := DBOperation{Sequence: 2, Table: "users", Operation: "SELECT", RowsAffected: 3}
	actual := DBOperation{Sequence: 2, Table: "users", Operation: "select", RowsAffected: 3}
	assert.Empty(t, compareDBOperations(expected, actual, DefaultTimingTolerance),
		"operation names compare case-insensitively")

	actual.Table = "accounts"
	actual.RowsAffected = 5
	diffs := compareDBOperations(expected, actual, DefaultTimingTolerance)
	require.Len(t, diffs, 2)
	byField := diffsByField(diffs)
	assert.Equal(t, ImpactHigh, byField["table"].Impact)
	assert.Equal(t, ImpactMedium, byField["rows_affected"].Impact)
}

// --- Service call validation ---

func TestCompareServiceCalls(t *testing.T) {
	expected := ServiceCall{Sequence: 1, Service: "billing", Operation: "charge", Input: map[string]any{"amount": 100}}
	actual := ServiceCall{Sequence: 1, Service: "billing", Operation: "refund", Input: map[string]any{"amount": 90}}

	diffs := compareServiceCalls(expected, actual, DefaultTimingTolerance)
	require.Len(t, diffs, 2)
	byField := diffsByField(diffs)
	assert.Equal(t, ImpactHigh, byField["operation"].Impact)
	assert.Equal(t, ImpactMedium, byField["input"].Impact)
}

// --- Webhook validation ---

func TestCompareWebhooks(t *testing.T) {
	expected := WebhookDelivery{
		Sequence: 5, URL: "https://hooks.example.com/a", Event: "user.created",
		Method: "POST", Payload: map[string]any{"id": "u1"}, ResponseStatus: 202,
	}
	actual := expected
	assert.Empty(t, compareWebhooks(expected, actual, DefaultTimingTolerance))

	actual.URL = "https://hooks.example.com/b"
	actual.Payload = map[string]any{"id": "u2"}
	diffs := compareWebhooks(expected, actual, DefaultTimingTolerance)
	require.Len(t, diffs, 2)
	byField := diffsByField(diffs)
	assert.Equal(t, ImpactHigh, byField["url"].Impact)
	assert.Equal(t, ImpactMedium, byField["payload"].Impact)
}

func diffsByField(diffs []Diff) map[string]Diff {
	byField := make(map[string]Diff, len(diffs))
	for _, d := range diffs {
		byField[d.Field] = d
	}
	return byField
}
