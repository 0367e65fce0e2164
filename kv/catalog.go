package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/keys"
)

// Catalog providers. Every lookup reads through the transaction's own view,
// so a DEFINE earlier in the same transaction is visible to later statements
// of that transaction.

// DefineNamespace creates a namespace, or returns the existing definition.
func (t *Transaction) DefineNamespace(ctx context.Context, name string) (*catalog.NamespaceDefinition, error) {
	if existing, err := t.GetNamespace(ctx, name); err == nil {
		return existing, nil
	} else if err != catalog.ErrNamespaceNotFound {
		return nil, err
	}
	def := &catalog.NamespaceDefinition{NamespaceID: t.store.nextCatalogID(), Name: name}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode namespace definition: %w", err)
	}
	if err := t.Put(keys.Namespace(name), data); err != nil {
		return nil, err
	}
	return def, nil
}

// GetNamespace returns a namespace definition by name.
func (t *Transaction) GetNamespace(ctx context.Context, name string) (*catalog.NamespaceDefinition, error) {
	data, ok, err := t.Get(ctx, keys.Namespace(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, catalog.ErrNamespaceNotFound
	}
	var def catalog.NamespaceDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode namespace definition: %w", err)
	}
	return &def, nil
}

// DefineDatabase creates a database in a namespace, or returns the existing
// definition.
func (t *Transaction) DefineDatabase(ctx context.Context, ns *catalog.NamespaceDefinition, name string) (*catalog.DatabaseDefinition, error) {
	if existing, err := t.GetDatabase(ctx, ns, name); err == nil {
		return existing, nil
	} else if err != catalog.ErrDatabaseNotFound {
		return nil, err
	}
	def := &catalog.DatabaseDefinition{
		DatabaseID:  t.store.nextCatalogID(),
		NamespaceID: ns.NamespaceID,
		Name:        name,
	}
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to encode database definition: %w", err)
	}
	if err := t.Put(keys.Database(ns.NamespaceID, name), data); err != nil {
		return nil, err
	}
	return def, nil
}

// GetDatabase returns a database definition by name.
func (t *Transaction) GetDatabase(ctx context.Context, ns *catalog.NamespaceDefinition, name string) (*catalog.DatabaseDefinition, error) {
	data, ok, err := t.Get(ctx, keys.Database(ns.NamespaceID, name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, catalog.ErrDatabaseNotFound
	}
	var def catalog.DatabaseDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode database definition: %w", err)
	}
	return &def, nil
}

// DefineTable stores a table definition. The JSON schema, if any, is
// compiled here so invalid schemas are rejected at definition time.
func (t *Transaction) DefineTable(ctx context.Context, ns, db uint32, def *catalog.TableDefinition) error {
	if err := def.CompileSchema(); err != nil {
		return err
	}
	if def.DefinedAt.IsZero() {
		def.DefinedAt = time.Now()
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode table definition: %w", err)
	}
	return t.Put(keys.Table(ns, db, def.Name), data)
}

// GetTableByName returns a table definition, or catalog.ErrTableNotFound.
func (t *Transaction) GetTableByName(ctx context.Context, ns, db uint32, name string) (*catalog.TableDefinition, error) {
	data, ok, err := t.Get(ctx, keys.Table(ns, db, name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrTableNotFound, name)
	}
	var def catalog.TableDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode table definition: %w", err)
	}
	return &def, nil
}

// DefineField stores a field definition.
func (t *Transaction) DefineField(ctx context.Context, ns, db uint32, def *catalog.FieldDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode field definition: %w", err)
	}
	return t.Put(keys.Field(ns, db, def.Table, def.Name), data)
}

// AllTableFields returns every field definition of a table, ordered by name.
func (t *Transaction) AllTableFields(ctx context.Context, ns, db uint32, table string) ([]*catalog.FieldDefinition, error) {
	prefix := keys.FieldPrefix(ns, db, table)
	entries, err := t.Scan(ctx, prefix, keys.PrefixEnd(prefix), 0)
	if err != nil {
		return nil, err
	}
	defs := make([]*catalog.FieldDefinition, 0, len(entries))
	for _, e := range entries {
		var def catalog.FieldDefinition
		if err := json.Unmarshal(e.Value, &def); err != nil {
			return nil, fmt.Errorf("failed to decode field definition: %w", err)
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

// DefineIndex stores an index definition and backfills it from the table's
// existing records, all within this transaction.
func (t *Transaction) DefineIndex(ctx context.Context, ns, db uint32, def *catalog.IndexDefinition) error {
	if def.IndexID == 0 {
		def.IndexID = t.store.nextCatalogID()
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode index definition: %w", err)
	}
	if err := t.Put(keys.Index(ns, db, def.Table, def.Name), data); err != nil {
		return err
	}

	// Backfill from records already visible to this transaction.
	prefix := keys.RecordPrefix(ns, db, def.Table)
	entries, err := t.Scan(ctx, prefix, keys.PrefixEnd(prefix), 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := keys.DecodeRecordID(ns, db, def.Table, e.Key)
		if err != nil {
			return err
		}
		doc, err := DeserializeDocument(e.Value)
		if err != nil {
			return err
		}
		doc.SetID(RecordID{Table: def.Table, Key: id})
		if err := t.indexRecord(ctx, ns, db, def, id, nil, doc); err != nil {
			return err
		}
	}
	return nil
}

// AllTableIndexes returns every index definition of a table.
func (t *Transaction) AllTableIndexes(ctx context.Context, ns, db uint32, table string) ([]*catalog.IndexDefinition, error) {
	prefix := keys.IndexPrefix(ns, db, table)
	entries, err := t.Scan(ctx, prefix, keys.PrefixEnd(prefix), 0)
	if err != nil {
		return nil, err
	}
	defs := make([]*catalog.IndexDefinition, 0, len(entries))
	for _, e := range entries {
		var def catalog.IndexDefinition
		if err := json.Unmarshal(e.Value, &def); err != nil {
			return nil, fmt.Errorf("failed to decode index definition: %w", err)
		}
		defs = append(defs, &def)
	}
	return defs, nil
}
