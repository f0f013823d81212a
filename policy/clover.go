package policy

import (
	"context"
	"os"

	"github.com/ostafen/clover"

	"github.com/saiset-co/sai-cache/types"
)

const cloverCollection = "cache_policies"

// CloverSource reads policy records from the cache_policies collection of a clover document store.
type CloverSource struct {
	path string
}

func NewCloverSource(path string) *CloverSource {
	return &CloverSource{path: path}
}

func (c *CloverSource) Name() string { return "clover" }

func (c *CloverSource) Policies(ctx context.Context) ([]types.PolicyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// clover.Open creates missing directories, which would hide a misconfigured path
	if _, err := os.Stat(c.path); err != nil {
		return nil, types.WrapError(err, "policy store not found")
	}

	db, err := clover.Open(c.path)
	if err != nil {
		return nil, types.WrapError(err, "failed to open policy store")
	}
	defer db.Close()

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		return nil, types.WrapError(err, "failed to check collection")
	}
	if !exists {
		return nil, types.NewErrorf("collection %s does not exist", cloverCollection)
	}

	docs, err := db.Query(cloverCollection).FindAll()
	if err != nil {
		return nil, types.WrapError(err, "failed to find cache policies")
	}

	records := make([]types.PolicyRecord, 0, len(docs))
	for _, doc := range docs {
		var record types.PolicyRecord
		if err := doc.Unmarshal(&record); err != nil {
			return nil, types.WrapError(err, "failed to decode cache policy")
		}
		records = append(records, record)
	}

	return records, nil
}

// SeedClover writes records into the clover store at path, replacing documents of the same entity type.
func SeedClover(path string, records []types.PolicyRecord) error {
	db, err := clover.Open(path)
	if err != nil {
		return types.WrapError(err, "failed to open policy store")
	}
	defer db.Close()

	exists, err := db.HasCollection(cloverCollection)
	if err != nil {
		return types.WrapError(err, "failed to check collection")
	}

	if !exists {
		if err := db.CreateCollection(cloverCollection); err != nil {
			return types.WrapError(err, "failed to create collection")
		}
	}

	docs := make([]*clover.Document, 0, len(records))
	for _, record := range records {
		err := db.Query(cloverCollection).Where(clover.Field("entity_type").Eq(record.EntityType)).Delete()
		if err != nil {
			return types.WrapError(err, "failed to replace cache policy "+record.EntityType)
		}

		doc := clover.NewDocument()
		doc.Set("entity_type", record.EntityType)
		doc.Set("strategy", record.Strategy)
		doc.Set("ttl", record.TTL)
		doc.Set("stale_time", record.StaleTime)
		doc.Set("priority", record.Priority)
		if record.MaxMemoryItems != nil {
			doc.Set("max_memory_items", *record.MaxMemoryItems)
		}
		if record.Compress != nil {
			doc.Set("compress", *record.Compress)
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil
	}

	return types.WrapError(db.Insert(cloverCollection, docs...), "failed to insert cache policies")
}
