package mapreduce

import "fmt"

// ExtractionPrompt wraps sanitized content in the map-phase extraction
// prompt. Callers below the processing threshold use it for their
// single-call path, so both paths share one prompt contract.
func ExtractionPrompt(content string) string {
	return fmt.Sprintf(mapPromptTemplate, content)
}

// mapPromptTemplate wraps one sanitized chunk for the extraction call.
// The trailing <CHANGES> tag primes the model to emit the delimited block
// the line codec looks for.
const mapPromptTemplate = `Extract ALL changes described in this content.

For each change, output ONE LINE in this format:
[category|importance] Title | Description

Categories: breaking, security, feature, improvement, fix, performance, deprecation, infrastructure, docs, other
Importance: high, medium, low

Example:
[feature|high] OAuth 2.0 Support | Added OAuth 2.0 authorization with new authorize endpoint
[fix|medium] Login crash fixed | Resolved application crash on startup due to missing config

IMPORTANT: Extract ALL changes. Do not filter or prioritize.

Content to analyze:
---
%s
---

<CHANGES>
`

// reducePromptTemplate wraps the union of per-chunk extractions for the
// consolidation call. Overlapping chunks see the same change twice, so the
// instruction is deduplicate-only: distinct changes must stay separate.
const reducePromptTemplate = `You have changes extracted from overlapping chunks. Many are DUPLICATES.

Your job: DEDUPLICATE only. Keep distinct changes as separate items.

Rules:
- REMOVE exact duplicates (same change mentioned multiple times)
- KEEP different changes as SEPARATE items (don't merge unrelated items)
- ALL breaking changes (each one separate)
- ALL security changes (each one separate)
- ALL distinct features (don't combine different features into one)
- ALL distinct fixes

Do NOT over-consolidate. "OAuth support" and "Audit Trail" are DIFFERENT features.

Output format - ONE LINE per change:
[category|importance] Title | Description

Changes (with duplicates from overlapping chunks):
%s

<CHANGES>
`

// flattenPromptTemplate asks for the net state of a chronological change
// listing: additions later reverted cancel out, improvements collapse to
// their final form, related items consolidate.
const flattenPromptTemplate = `You are analyzing a sequence of changes to determine the NET STATE.

Go through the changes chronologically and determine what ACTUALLY remains:

1. If something was ADDED then later REMOVED/REVERTED → NET ZERO → exclude both
2. If something was ADDED then IMPROVED → show only FINAL state
3. If changes are RELATED (same feature/area) → consolidate into ONE entry
4. REVERT commits themselves should never appear in output

Think step by step:
- What was added?
- Was it later modified? Show final state.
- Was it later removed/reverted? Exclude entirely.

Input:
%s

Output format:
<FLATTENED>
[category|importance] Title | Description
...
</FLATTENED>

<REMOVED reason="why excluded">
- Item that was removed/reverted
</REMOVED>
`
