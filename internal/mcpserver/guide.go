package mcpserver

// UsageGuide explains identifiers, limits and side effects of the tools to
// LLM consumers. It is served as the paperlens://guide resource.
const UsageGuide = `# paperlens tool guide

## Identifiers

- **Paper ids** are opaque strings (arXiv style, e.g. ` + "`2401.00001`" + ` or
  ` + "`hep-th/9901001`" + `). Pass them back exactly as returned; never convert to numbers.
- **Category codes** follow arXiv: lowercase archive, optional dot and subject
  (` + "`cs.AI`" + `, ` + "`math.ST`" + `, ` + "`hep-th`" + `).

## Limits

1. A search needs a query, at least one category, or both. Pages start at 1.
2. At most 10 categories per search.
3. At most 5 interest categories; saving an empty selection is rejected.
4. Recommendations default to top_k 6 out of candidate_k 50.

## Side effects

- ` + "`get_paper`" + ` adds the paper to the recently viewed list.
- ` + "`toggle_bookmark`" + ` adds the bookmark when absent and removes it when present.
  It reports the resulting state.
- ` + "`save_interests`" + ` replaces the whole interest set.
- Bookmark, history and interest tools need a logged-in session
  (run ` + "`paperlens login`" + ` first).
`
