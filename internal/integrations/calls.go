// Package integrations records the external side effects of an execution
// (API calls, database operations, service calls, webhook deliveries) and
// compares the records of a workflow run against those of its journey
// counterpart, tagging every divergence with an impact level.
package integrations

import (
	"fmt"
	"sort"
	"time"

	"github.com/tandemlab/tandem/pkg/schema"
)

// Category names one kind of recorded side effect.
type Category string

const (
	CategoryAPI     Category = "api"
	CategoryDB      Category = "db"
	CategoryService Category = "service"
	CategoryWebhook Category = "webhook"
)

// Categories lists all categories in report order.
var Categories = []Category{CategoryAPI, CategoryDB, CategoryService, CategoryWebhook}

// APICall is one recorded HTTP call. Sequence and Timestamp are stamped
// by the recorder.
type APICall struct {
	Sequence       int               `json:"sequence"`
	Endpoint       string            `json:"endpoint"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	Params         map[string]any    `json:"params,omitempty"`
	Body           any               `json:"body,omitempty"`
	ResponseStatus int               `json:"response_status,omitempty"`
	ResponseBody   any               `json:"response_body,omitempty"`
	Duration       schema.Millis     `json:"duration_ms"`
	Timestamp      time.Time         `json:"timestamp"`
}

// DBOperation is one recorded database statement.
type DBOperation struct {
	Sequence     int           `json:"sequence"`
	Table        string        `json:"table"`
	Operation    string        `json:"operation"`
	Query        string        `json:"query,omitempty"`
	Params       []any         `json:"params,omitempty"`
	RowsAffected int64         `json:"rows_affected,omitempty"`
	Result       any           `json:"result,omitempty"`
	Duration     schema.Millis `json:"duration_ms"`
	Timestamp    time.Time     `json:"timestamp"`
}

// ServiceCall is one recorded call to an external service.
type ServiceCall struct {
	Sequence  int           `json:"sequence"`
	Service   string        `json:"service"`
	Operation string        `json:"operation"`
	Input     any           `json:"input,omitempty"`
	Output    any           `json:"output,omitempty"`
	Duration  schema.Millis `json:"duration_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// WebhookDelivery is one recorded outbound webhook.
type WebhookDelivery struct {
	Sequence       int               `json:"sequence"`
	URL            string            `json:"url"`
	Event          string            `json:"event"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        any               `json:"payload,omitempty"`
	ResponseStatus int               `json:"response_status,omitempty"`
	Duration       schema.Millis     `json:"duration_ms"`
	Timestamp      time.Time         `json:"timestamp"`
}

// IntegrationLog holds every side effect recorded for one execution,
// grouped by category. Sequence numbers are monotonic across categories,
// so the global call order is always recoverable.
type IntegrationLog struct {
	ExecutionID  string            `json:"execution_id"`
	APICalls     []APICall         `json:"api_calls,omitempty"`
	DBOperations []DBOperation     `json:"db_operations,omitempty"`
	ServiceCalls []ServiceCall     `json:"service_calls,omitempty"`
	Webhooks     []WebhookDelivery `json:"webhooks,omitempty"`
}

// Total counts recorded side effects across all categories.
func (l *IntegrationLog) Total() int {
	return len(l.APICalls) + len(l.DBOperations) + len(l.ServiceCalls) + len(l.Webhooks)
}

// sequenceRef is one entry of the cross-category call order.
type sequenceRef struct {
	Sequence int
	Category Category
	Ref      string
}

// ordered flattens the log into global call order.
func (l *IntegrationLog) ordered() []sequenceRef {
	refs := make([]sequenceRef, 0, l.Total())
	for _, c := range l.APICalls {
		refs = append(refs, sequenceRef{c.Sequence, CategoryAPI, c.Method + " " + c.Endpoint})
	}
	for _, op := range l.DBOperations {
		refs = append(refs, sequenceRef{op.Sequence, CategoryDB, op.Operation + " " + op.Table})
	}
	for _, c := range l.ServiceCalls {
		refs = append(refs, sequenceRef{c.Sequence, CategoryService, c.Service + "." + c.Operation})
	}
	for _, w := range l.Webhooks {
		refs = append(refs, sequenceRef{w.Sequence, CategoryWebhook, w.Event + " " + w.URL})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Sequence < refs[j].Sequence })
	return refs
}

func (r sequenceRef) String() string {
	return fmt.Sprintf("%s %s", r.Category, r.Ref)
}
