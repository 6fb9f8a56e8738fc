package contract

import (
	"encoding/json"
	"fmt"

	"ehranchor/model"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// historyCursor walks the change log of a single key in the order the ledger delivers it.
// It is single pass and must be closed by whoever opened it.
type historyCursor struct {
	key    string
	iter   shim.HistoryQueryIteratorInterface
	closed bool
}

func openHistory(ctx contractapi.TransactionContextInterface, key string) (*historyCursor, error) {
	iter, err := ctx.GetStub().GetHistoryForKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to get history for key: %w", err)
	}
	return &historyCursor{key: key, iter: iter}, nil
}

// Next returns the next record, or false once the log is exhausted.
func (c *historyCursor) Next() (model.HistoryRecord, bool, error) {
	if c.closed || !c.iter.HasNext() {
		return model.HistoryRecord{}, false, nil
	}
	mod, err := c.iter.Next()
	if err != nil {
		return model.HistoryRecord{}, false, fmt.Errorf("failed to iterate history: %w", err)
	}

	rec := model.HistoryRecord{
		TxID:     mod.TxId,
		IsDelete: mod.IsDelete,
	}
	if mod.Timestamp != nil {
		rec.Timestamp = formatTimestamp(mod.Timestamp.AsTime())
	}

	// A delete or foreign entry yields an empty snapshot instead of aborting the query.
	var snapshot model.PatientReference
	if len(mod.Value) > 0 {
		if err := json.Unmarshal(mod.Value, &snapshot); err != nil {
			logger.Warningf("History: unparseable value in tx '%s': %v. Using empty snapshot.", mod.TxId, err)
			snapshot = model.PatientReference{}
		}
	}
	rec.LatestCid = snapshot.LatestCid
	rec.LatestDocHash = snapshot.LatestDocHash
	rec.Mime = snapshot.Mime
	rec.Size = snapshot.Size
	rec.UpdatedAt = nullable(snapshot.UpdatedAt)
	return rec, true, nil
}

// Close releases the underlying iterator. It is safe to call more than once.
func (c *historyCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.iter.Close()
}

// readHistory drains the change log for key. The iterator is released on every return path.
func readHistory(ctx contractapi.TransactionContextInterface, key string) (records []model.HistoryRecord, err error) {
	cursor, err := openHistory(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := cursor.Close(); cerr != nil {
			logger.Warningf("History: failed to close iterator: %v", cerr)
		}
	}()

	records = []model.HistoryRecord{}
	for {
		rec, ok, err := cursor.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return records, nil
		}
		records = append(records, rec)
	}
}
