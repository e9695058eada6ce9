package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creditdesk/apiserver/types"
)

type streamingLedgerStore struct {
	fakeLedgerStore
	transactions []types.Transaction
}

func (s *streamingLedgerStore) StreamAll(_ context.Context, fn func(types.Transaction) error) error {
	for _, t := range s.transactions {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

type fakeObjectStore struct {
	bucketEnsured bool
	key           string
	contentType   string
	data          []byte
}

func (f *fakeObjectStore) EnsureBucket(context.Context) error {
	f.bucketEnsured = true
	return nil
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.key = key
	f.contentType = contentType
	f.data = data
	return nil
}

func (f *fakeObjectStore) Bucket() string { return "test-bucket" }

func intPtr(v int) *int { return &v }

func rolePtr(r types.Role) *types.Role { return &r }

func TestExportTransactionsWritesCSV(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger := &streamingLedgerStore{
		transactions: []types.Transaction{
			{
				ID:             1,
				FromUserID:     intPtr(5),
				ToUserID:       9,
				Kind:           types.KindCredits,
				Amount:         intPtr(10),
				PreviousAmount: intPtr(20),
				NewAmount:      intPtr(30),
				Reason:         "topup",
				CreatedAt:      created,
			},
			{
				ID:        2,
				ToUserID:  9,
				Kind:      types.KindRoleChange,
				OldRole:   rolePtr(types.RoleUser),
				NewRole:   rolePtr(types.RoleSeller),
				CreatedAt: created,
			},
		},
	}
	objects := &fakeObjectStore{}
	svc := NewExportService(ledger, objects)

	result, err := svc.ExportTransactions(context.Background())
	require.NoError(t, err)

	assert.True(t, objects.bucketEnsured)
	assert.Equal(t, "test-bucket", result.Bucket)
	assert.Equal(t, 2, result.Rows)
	assert.True(t, strings.HasPrefix(result.Key, "exports/transactions-"))
	assert.True(t, strings.HasSuffix(result.Key, ".csv"))
	assert.Equal(t, "text/csv", objects.contentType)

	records, err := csv.NewReader(bytes.NewReader(objects.data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header plus two rows")

	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "credits", records[1][3])
	assert.Equal(t, "30", records[1][6])
	assert.Equal(t, "role_change", records[2][3])
	assert.Equal(t, "user", records[2][7])
	assert.Equal(t, "seller", records[2][8])
}

func TestExportTransactionsDisabledWithoutStore(t *testing.T) {
	svc := NewExportService(&streamingLedgerStore{}, nil)

	_, err := svc.ExportTransactions(context.Background())
	require.ErrorIs(t, err, ErrExportsDisabled)
}
