package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	apperrors "settlement-engine/internal/common/errors"
	"settlement-engine/internal/models"
)

// TransactionIndexMapping is the index body created for the audit index.
// Amounts arrive as decimal strings and are coerced.
const TransactionIndexMapping = `{
  "mappings": {
    "properties": {
      "id":            {"type": "keyword"},
      "fromAccountId": {"type": "keyword"},
      "toAccountId":   {"type": "keyword"},
      "amount":        {"type": "scaled_float", "scaling_factor": 100},
      "type":          {"type": "keyword"},
      "status":        {"type": "keyword"},
      "failureReason": {"type": "text"},
      "timestamp":     {"type": "date"},
      "contractId":    {"type": "keyword"},
      "escrowTag":     {"type": "keyword"},
      "retryOf":       {"type": "keyword"},
      "risk": {
        "properties": {
          "score":          {"type": "float"},
          "recommendation": {"type": "keyword"}
        }
      }
    }
  }
}`

// TransactionIndexer mirrors transaction records into an Elasticsearch index.
// The record id is the document id, so re-indexing a retried record
// replaces the earlier copy.
type TransactionIndexer struct {
	client *elasticsearch.Client
	index  string
}

func NewTransactionIndexer(client *elasticsearch.Client, index string) *TransactionIndexer {
	return &TransactionIndexer{client: client, index: index}
}

func (x *TransactionIndexer) IndexTransaction(ctx context.Context, t *models.Transaction) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode transaction: %w", err)
	}
	res, err := x.client.Index(
		x.index,
		bytes.NewReader(body),
		x.client.Index.WithContext(ctx),
		x.client.Index.WithDocumentID(t.ID),
	)
	if err != nil {
		return apperrors.NewExternalServiceError("elasticsearch", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperrors.NewExternalServiceError("elasticsearch", fmt.Errorf("index %s: %s", t.ID, res.Status()))
	}
	return nil
}
