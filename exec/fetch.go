package exec

import (
	"context"
	"sync"

	"github.com/kartikbazzad/stratum/kv"
)

// FetchAndFilterRecords is the single fetch path shared by every scan-class
// operator. It fetches the given record keys, applies the resolved
// permission per record, and returns surviving documents in input key order.
// A record missing at fetch time was deleted between index lookup and fetch
// and is silently omitted. When checkPerms is false the permission is not
// consulted at all.
//
// Fetches run concurrently on the context's worker pool when one is present;
// results are placed by input index so concurrency never reorders output.
// Conditional clauses are evaluated sequentially afterwards, in order, since
// they may themselves read through the transaction.
func FetchAndFilterRecords(ctx context.Context, ec *ExecutionContext, ns, db uint32, table string, ids []string, perm PhysicalPermission, checkPerms bool) ([]kv.Document, int, error) {
	if len(ids) == 0 {
		return nil, 0, nil
	}
	if checkPerms && perm.Kind == PermDeny {
		return nil, len(ids), nil
	}

	fetched := make([]kv.Document, len(ids))
	if pool := ec.Pool(); pool != nil && len(ids) > 1 {
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error
		for i, id := range ids {
			i, id := i, id
			wg.Add(1)
			submit := func() {
				defer wg.Done()
				doc, err := ec.Txn().GetRecord(ctx, ns, db, table, id)
				if err == kv.ErrRecordNotFound {
					return
				}
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				fetched[i] = doc
			}
			if err := pool.Submit(submit); err != nil {
				// Pool saturated or closed; do the work inline.
				submit()
			}
		}
		wg.Wait()
		if firstErr != nil {
			return nil, 0, mapCancel(firstErr)
		}
	} else {
		for i, id := range ids {
			doc, err := ec.Txn().GetRecord(ctx, ns, db, table, id)
			if err == kv.ErrRecordNotFound {
				continue
			}
			if err != nil {
				return nil, 0, mapCancel(err)
			}
			fetched[i] = doc
		}
	}

	out := make([]kv.Document, 0, len(ids))
	denied := 0
	for _, doc := range fetched {
		if doc == nil {
			continue
		}
		if checkPerms {
			allowed, err := CheckPermissionForValue(ctx, ec, perm, doc)
			if err != nil {
				return nil, 0, err
			}
			if !allowed {
				denied++
				continue
			}
		}
		out = append(out, doc)
	}
	return out, denied, nil
}
