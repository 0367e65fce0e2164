package exec

import (
	"context"
	"fmt"
	"sort"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/internal/fts"
	"github.com/kartikbazzad/stratum/keys"
)

// FullTextScan streams a table's records in relevance order for a text
// query. Query terms come from the table's analyzer, matches from the
// index's postings, and ordering from BM25 scoring. Records are fetched
// through the shared fetch/filter helper with a smaller batch size than
// generic scans, so consumers reading in relevance order start sooner.
type FullTextScan struct {
	Table    string
	Index    string
	Query    string
	analyzer *fts.Analyzer
	metrics  *OperatorMetrics
}

func NewFullTextScan(table, index, query string, analyzer *fts.Analyzer) *FullTextScan {
	return &FullTextScan{
		Table:    table,
		Index:    index,
		Query:    query,
		analyzer: analyzer,
		metrics:  newOperatorMetrics("FullTextScan"),
	}
}

func (op *FullTextScan) Name() string { return "FullTextScan" }

func (op *FullTextScan) Attrs() [][2]string {
	return [][2]string{
		{"table", op.Table},
		{"index", op.Index},
		{"query", op.Query},
	}
}

func (op *FullTextScan) RequiredContext() ContextLevel { return LevelDatabase }
func (op *FullTextScan) Children() []ExecOperator      { return nil }
func (op *FullTextScan) AccessMode() AccessMode        { return AccessReadOnly }
func (op *FullTextScan) CardinalityHint() Cardinality  { return CardinalityMany }
func (op *FullTextScan) Metrics() *OperatorMetrics     { return op.metrics }

func (op *FullTextScan) Execute(ctx context.Context, ec *ExecutionContext) (BatchStream, error) {
	if err := checkLevel(op, ec); err != nil {
		return nil, err
	}
	return meter(op.metrics, &fullTextStream{op: op, ec: ec}), nil
}

// hit is one scored match.
type hit struct {
	id    string
	score float64
}

type fullTextStream struct {
	op    *FullTextScan
	ec    *ExecutionContext
	state streamState

	cell       permCell[PhysicalPermission]
	perm       PhysicalPermission
	checkPerms bool
	hits       []hit
	pos        int
	ns, db     uint32
}

func (s *fullTextStream) Next(ctx context.Context) (*ValueBatch, bool, error) {
	if s.state == stateExhausted {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		s.state = stateExhausted
		return nil, false, cancelErr(err)
	}
	if s.state == stateUninitialized {
		if err := s.resolve(ctx); err != nil {
			s.state = stateExhausted
			return nil, false, err
		}
		if s.checkPerms && s.perm.Kind == PermDeny {
			s.state = stateExhausted
			return nil, false, nil
		}
		if err := s.scoreHits(ctx); err != nil {
			s.state = stateExhausted
			return nil, false, err
		}
	}
	s.state = stateDraining

	batchSize := s.ec.Opts().FullTextBatchSize
	for s.pos < len(s.hits) {
		if err := ctx.Err(); err != nil {
			s.state = stateExhausted
			return nil, false, cancelErr(err)
		}
		end := s.pos + batchSize
		if end > len(s.hits) {
			end = len(s.hits)
		}
		ids := make([]string, 0, end-s.pos)
		for _, h := range s.hits[s.pos:end] {
			ids = append(ids, h.id)
		}
		s.pos = end

		docs, denied, err := FetchAndFilterRecords(ctx, s.ec, s.ns, s.db, s.op.Table, ids, s.perm, s.checkPerms)
		if err != nil {
			s.state = stateExhausted
			return nil, false, err
		}
		s.op.metrics.observeDenied(denied)
		if len(docs) == 0 {
			continue
		}
		return &ValueBatch{Values: docs}, true, nil
	}
	s.state = stateExhausted
	return nil, false, nil
}

func (s *fullTextStream) resolve(ctx context.Context) error {
	perm, err := s.cell.get(func() (PhysicalPermission, error) {
		p, _, err := resolveTablePermission(ctx, s.ec, s.op.Table, pickSelect)
		return p, err
	})
	if err != nil {
		return err
	}
	s.perm = perm
	s.checkPerms = ShouldCheckPerms(s.ec, ActionView)
	ns, err := s.ec.Namespace()
	if err != nil {
		return err
	}
	db, err := s.ec.Database()
	if err != nil {
		return err
	}
	s.ns, s.db = ns.NamespaceID, db.DatabaseID
	s.state = statePermissionResolved
	return nil
}

// scoreHits walks the postings of every query term, accumulates per-record
// BM25 contributions and sorts the matches by descending score. Ties break
// on record id so relevance order is deterministic.
func (s *fullTextStream) scoreHits(ctx context.Context) error {
	idx, err := s.findIndex(ctx)
	if err != nil {
		return err
	}
	terms := s.op.analyzer.UniqueTerms(s.op.Query)
	if len(terms) == 0 {
		return nil
	}

	docCount, totalLen, err := s.readStats(ctx, idx)
	if err != nil {
		return err
	}
	k1, b := idx.BM25Params()
	scorer := fts.NewScorer(k1, b, docCount, totalLen)

	scores := make(map[string]float64)
	for _, term := range terms {
		postings, err := s.termPostings(ctx, idx, term)
		if err != nil {
			return err
		}
		if len(postings) == 0 {
			continue
		}
		idf := scorer.IDF(uint64(len(postings)))
		for id, tf := range postings {
			if err := ctx.Err(); err != nil {
				return cancelErr(err)
			}
			docLen, err := s.docLength(ctx, idx, id)
			if err != nil {
				return err
			}
			scores[id] += scorer.Score(idf, tf, docLen)
		}
	}

	s.hits = make([]hit, 0, len(scores))
	for id, score := range scores {
		s.hits = append(s.hits, hit{id: id, score: score})
	}
	sort.Slice(s.hits, func(i, j int) bool {
		if s.hits[i].score != s.hits[j].score {
			return s.hits[i].score > s.hits[j].score
		}
		return s.hits[i].id < s.hits[j].id
	})
	return nil
}

func (s *fullTextStream) findIndex(ctx context.Context) (*catalog.IndexDefinition, error) {
	indexes, err := s.ec.Txn().AllTableIndexes(ctx, s.ns, s.db, s.op.Table)
	if err != nil {
		return nil, err
	}
	for _, idx := range indexes {
		if idx.Kind == catalog.IndexFullText && idx.Name == s.op.Index {
			return idx, nil
		}
	}
	return nil, fmt.Errorf("%w: %s on table %s", catalog.ErrIndexNotFound, s.op.Index, s.op.Table)
}

// termPostings returns record id to term frequency for one term, checking
// cancellation per posting.
func (s *fullTextStream) termPostings(ctx context.Context, idx *catalog.IndexDefinition, term string) (map[string]uint32, error) {
	prefix := keys.PostingPrefix(s.ns, s.db, s.op.Table, idx.IndexID, term)
	iter, err := s.ec.Txn().ScanBatches(prefix, keys.PrefixEnd(prefix), s.ec.Opts().BatchSize)
	if err != nil {
		return nil, err
	}
	postings := make(map[string]uint32)
	for {
		entries, err := iter.NextBatch(ctx)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			return postings, nil
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return nil, cancelErr(err)
			}
			id, err := keys.DecodePostingID(s.ns, s.db, s.op.Table, idx.IndexID, term, e.Key)
			if err != nil {
				return nil, err
			}
			tf, err := keys.DecodeTermFreq(e.Value)
			if err != nil {
				return nil, err
			}
			postings[id] = tf
		}
	}
}

func (s *fullTextStream) docLength(ctx context.Context, idx *catalog.IndexDefinition, id string) (uint64, error) {
	data, ok, err := s.ec.Txn().Get(ctx, keys.DocLength(s.ns, s.db, s.op.Table, idx.IndexID, id))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return keys.DecodeUint64(data)
}

func (s *fullTextStream) readStats(ctx context.Context, idx *catalog.IndexDefinition) (docCount, totalLen uint64, err error) {
	data, ok, err := s.ec.Txn().Get(ctx, keys.IndexStats(s.ns, s.db, s.op.Table, idx.IndexID))
	if err != nil || !ok {
		return 0, 0, err
	}
	if len(data) < 16 {
		return 0, 0, fmt.Errorf("invalid stats length for index %s: %d", idx.Name, len(data))
	}
	if docCount, err = keys.DecodeUint64(data[:8]); err != nil {
		return 0, 0, err
	}
	if totalLen, err = keys.DecodeUint64(data[8:16]); err != nil {
		return 0, 0, err
	}
	return docCount, totalLen, nil
}
