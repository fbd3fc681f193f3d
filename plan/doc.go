package plan

// Package plan is the input side of the compiler. It describes a fully
// resolved relational query, ie the output of some frontend that already
// did parsing, name resolution and type annotation. The compiler in the
// mql package walks these structures and emits a MongoDB aggregation
// pipeline, it never mutates them.
//
// A Plan is made of the following pieces, all optional except Collection:
//
// 1) Columns
//    The projection list. Each column has an output alias, an expression
//    and the declared storage type of the result, which the decode plan
//    uses to pick a post read conversion.
//
// 2) Joins
//    Every join becomes a $lookup + $unwind pair. Only equality joins are
//    expressible. The unwind flattening is only faithful to SQL for 1:1
//    relationships; a 1:many join collapses the duplication SQL would
//    produce, callers that need SQL cardinality must deduplicate on their
//    side. This is a documented contract, not a bug.
//
// 3) Where / Having
//    Boolean trees of comparisons, see Cond. The having tree may contain
//    aggregate expressions, the where tree may not.
//
// 4) GroupBy / aggregates inside Columns
//    Turn into a $group stage, possibly wrapped into a $facet when there
//    is no group key, so that an aggregate over zero rows still yields
//    one row.
//
// 5) OrderBy, Offset/Bound
//    Map to $sort, $skip and $limit. Offset == *Bound is an empty window
//    and short circuits the whole compilation.
//
// 6) Combined
//    Set operation over sibling plans, chained with $unionWith.
