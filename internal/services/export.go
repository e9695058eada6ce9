package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/creditdesk/apiserver/types"
	"github.com/google/uuid"
)

// ErrExportsDisabled is returned when no object storage backend is configured.
var ErrExportsDisabled = errors.New("exports are not configured")

// ObjectStore is the subset of the storage layer the exporter needs.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Bucket() string
}

// ExportResult points at the written object.
type ExportResult struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Rows   int    `json:"rows"`
}

// ExportService writes ledger snapshots to object storage as CSV.
type ExportService struct {
	ledger  LedgerStore
	objects ObjectStore
}

func NewExportService(ledger LedgerStore, objects ObjectStore) *ExportService {
	return &ExportService{ledger: ledger, objects: objects}
}

var exportHeader = []string{
	"id", "from_user_id", "to_user_id", "kind", "amount",
	"previous_amount", "new_amount", "old_role", "new_role", "reason", "created_at",
}

// ExportTransactions streams every ledger entry, in commit order, into one
// CSV object named exports/transactions-<uuid>.csv.
func (s *ExportService) ExportTransactions(ctx context.Context) (ExportResult, error) {
	if s.objects == nil {
		return ExportResult{}, ErrExportsDisabled
	}
	if err := s.objects.EnsureBucket(ctx); err != nil {
		return ExportResult{}, fmt.Errorf("ensure bucket: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return ExportResult{}, err
	}

	rows := 0
	err := s.ledger.StreamAll(ctx, func(t types.Transaction) error {
		rows++
		return w.Write(exportRow(t))
	})
	if err != nil {
		return ExportResult{}, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ExportResult{}, err
	}

	key := fmt.Sprintf("exports/transactions-%s.csv", uuid.NewString())
	if err := s.objects.Put(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "text/csv"); err != nil {
		return ExportResult{}, fmt.Errorf("put export object: %w", err)
	}

	return ExportResult{
		Bucket: s.objects.Bucket(),
		Key:    key,
		Rows:   rows,
	}, nil
}

func exportRow(t types.Transaction) []string {
	return []string{
		strconv.Itoa(t.ID),
		intPtrField(t.FromUserID),
		strconv.Itoa(t.ToUserID),
		string(t.Kind),
		intPtrField(t.Amount),
		intPtrField(t.PreviousAmount),
		intPtrField(t.NewAmount),
		rolePtrField(t.OldRole),
		rolePtrField(t.NewRole),
		t.Reason,
		t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func intPtrField(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func rolePtrField(r *types.Role) string {
	if r == nil {
		return ""
	}
	return string(*r)
}
