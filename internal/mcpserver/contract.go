package mcpserver

// SidecarFormatContract describes the canonical sidecar format that LLM
// consumers should follow when writing document metadata.
const SidecarFormatContract = `# Arkiv Sidecar Format Contract

Every document in an Arkiv library may carry a metadata sidecar: a
Markdown file next to the primary file, same name, ".md" extension
(report.pdf -> report.md). The filesystem is the source of truth; the
index is derived and rebuildable.

## Structure

` + "```" + `markdown
---
title: Human-readable title         # display name; defaults to file stem
author: Jane Doe                    # OPTIONAL
category: textbooks                 # OPTIONAL - single category
tags:                               # OPTIONAL - YAML list, AND-filterable
  - systems
  - networking
rating: 4                           # OPTIONAL - integer 1-5
read_status: reading                # unread | reading | read
favorite: true                      # OPTIONAL
source: https://example.com         # OPTIONAL - origin URL or reference
date_added: 2025-01-15              # YYYY-MM-DD, day precision
date_modified: 2025-06-01           # YYYY-MM-DD, day precision
---

Free-text notes about the document go here (the body). Searchable.
` + "```" + `

## Rules

1. **The front-matter fences must open the file.** No leading blank
   lines before the first ` + "`" + `---` + "`" + `.
2. **All fields are optional.** A document without a sidecar gets
   synthesized defaults: title = file name stem, read_status = unread.
3. **Dates are day precision.** Finer precision is not round-tripped.
4. **rating** is an integer from 1 to 5; omit it when unrated.
5. **Unknown scalar keys are preserved** as custom fields and survive a
   rewrite. Keys colliding with the reserved fields above are dropped.
6. **".md" files are never documents themselves** - they are sidecars
   (or plain notes) and are skipped by the scanner.
7. **Encoding** is UTF-8.

## Example

` + "```" + `markdown
---
title: Designing Data-Intensive Applications
author: Martin Kleppmann
category: textbooks
tags:
  - systems
  - databases
rating: 5
read_status: read
favorite: true
date_added: 2024-11-02
---

Chapter 5 on replication is the part worth rereading.
` + "```" + `
`
