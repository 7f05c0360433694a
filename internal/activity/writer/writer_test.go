package writer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/loyalty-core/internal/activity/types"
)

func TestNewWriterValidation(t *testing.T) {
	if _, err := New(nil, Config{Table: "loyalty_activity"}); err == nil {
		t.Fatal("expected error when client missing")
	}
	if _, err := newWriter(&fakeInserter{}, Config{Table: " "}); err == nil {
		t.Fatal("expected error when table missing")
	}
}

func TestEncodeJSON(t *testing.T) {
	nj, err := EncodeJSON(map[string]any{"points": 10})
	if err != nil {
		t.Fatalf("unexpected error encoding json: %v", err)
	}
	if !nj.Valid || nj.JSONVal != `{"points":10}` {
		t.Fatalf("unexpected json %+v", nj)
	}

	nj, err = EncodeJSON(nil)
	if err != nil || nj.Valid {
		t.Fatalf("expected nil json to be invalid, got %+v %v", nj, err)
	}

	raw := json.RawMessage(`{"tier":"gold"}`)
	nj, err = EncodeJSON(raw)
	if err != nil {
		t.Fatalf("unexpected error encoding raw json: %v", err)
	}
	if nj.JSONVal != string(raw) {
		t.Fatalf("expected raw json passed through, got %s", nj.JSONVal)
	}

	nj, _ = EncodeJSON(json.RawMessage(nil))
	if nj.Valid {
		t.Fatal("empty raw message should be null")
	}
}

func TestWriterRetriesOnTransientError(t *testing.T) {
	writer, fake := newTestWriter(t)
	fake.responses = []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		nil,
	}

	if err := writer.InsertActivity(context.Background(), types.ActivityRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected error writing row: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(fake.calls))
	}
	if fake.calls[1].table != "loyalty_activity" {
		t.Fatalf("expected activity table on retry, got %s", fake.calls[1].table)
	}
	if len(writer.buffer) != 0 {
		t.Fatal("expected buffer to be empty after success")
	}
}

func TestWriterStopsOnPermanentError(t *testing.T) {
	writer, fake := newTestWriter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusBadRequest}}

	if err := writer.InsertActivity(context.Background(), types.ActivityRow{EventID: "1"}); err == nil {
		t.Fatal("expected error for bad request")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("permanent errors are not retried, got %d calls", len(fake.calls))
	}
}

func TestWriterBatching(t *testing.T) {
	writer, fake := newTestWriter(t)
	writer.batchSize = 2

	if err := writer.InsertActivity(context.Background(), types.ActivityRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("expected no insert before batch full, got %d", len(fake.calls))
	}
	if err := writer.InsertActivity(context.Background(), types.ActivityRow{EventID: "2"}); err != nil {
		t.Fatalf("unexpected error on second insert: %v", err)
	}
	if len(fake.calls) != 1 || fake.calls[0].rowCount != 2 {
		t.Fatalf("expected one insert of two rows, got %+v", fake.calls)
	}
}

func TestWriterFlush(t *testing.T) {
	writer, fake := newTestWriter(t)
	writer.batchSize = 10
	if err := writer.InsertActivity(context.Background(), types.ActivityRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if err := writer.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected flush to insert once, got %d", len(fake.calls))
	}
	if len(writer.buffer) != 0 {
		t.Fatalf("expected buffer to be empty after flush, got %d", len(writer.buffer))
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"403", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"put multi retryable", cbigquery.PutMultiError{
			{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusInternalServerError}}},
		}, true},
		{"put multi mixed", cbigquery.PutMultiError{
			{Errors: cbigquery.MultiError{&googleapi.Error{Code: http.StatusInternalServerError}}},
			{Errors: cbigquery.MultiError{errors.New("invalid row")}},
		}, false},
	}
	for _, tc := range cases {
		if got := isRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestEnsureSchema(t *testing.T) {
	creator := &fakeCreator{}
	if err := EnsureSchema(context.Background(), creator, "loyalty_activity"); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if creator.name != "loyalty_activity" {
		t.Fatalf("unexpected table %s", creator.name)
	}
	columns := map[string]cbigquery.FieldType{}
	for _, field := range creator.schema {
		columns[field.Name] = field.Type
	}
	if columns["occurred_at"] != cbigquery.TimestampFieldType {
		t.Fatalf("occurred_at should be a timestamp, got %v", columns["occurred_at"])
	}
	if columns["points_delta"] != cbigquery.IntegerFieldType {
		t.Fatalf("points_delta should be an integer, got %v", columns["points_delta"])
	}
}

func TestInsertRespectsCanceledContext(t *testing.T) {
	writer, fake := newTestWriter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusServiceUnavailable}}
	writer.retry.InitialBackoff = time.Hour
	writer.retry.MaximumBackoff = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for len(fake.snapshot()) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()
	if err := writer.InsertActivity(ctx, types.ActivityRow{EventID: "1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

type insertCall struct {
	table    string
	rowCount int
}

type fakeInserter struct {
	mu        sync.Mutex
	responses []error
	calls     []insertCall
	index     int
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, insertCall{table: table, rowCount: len(rows)})
	var err error
	if f.index < len(f.responses) {
		err = f.responses[f.index]
	}
	f.index++
	return err
}

func (f *fakeInserter) snapshot() []insertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]insertCall(nil), f.calls...)
}

type fakeCreator struct {
	name   string
	schema cbigquery.Schema
}

func (f *fakeCreator) EnsureTable(_ context.Context, name string, schema cbigquery.Schema) error {
	f.name = name
	f.schema = schema
	return nil
}

func newTestWriter(t *testing.T) (*BigQueryWriter, *fakeInserter) {
	t.Helper()
	fake := &fakeInserter{}
	writer, err := newWriter(fake, Config{Table: "loyalty_activity"})
	if err != nil {
		t.Fatalf("construct writer: %v", err)
	}
	return writer, fake
}
