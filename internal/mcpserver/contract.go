package mcpserver

// DraftFormatContract describes the post file format read_post returns and
// update_post accepts.
const DraftFormatContract = `# Ghostly Post Format

A post is exchanged as a single text file: YAML frontmatter followed by the
post's HTML body.

` + "```" + `
---
id: 65f1c0ffee                    # REQUIRED, never change it
title: Weekly notes               # REQUIRED
slug: weekly-notes                # read-only, ignored on update
status: draft                     # draft | published | scheduled
excerpt: Short summary            # optional
feature_image: https://...        # optional
tags:                             # optional, tag names
  - News
updated_at: 2024-06-01T00:00:01.000Z   # REQUIRED, copy it unchanged
checksum: 3b1f...                 # written on export, leave as is
---
<p>HTML body.</p>
` + "```" + `

## Rules

1. Always start from the text read_post returned. ` + "`updated_at`" + ` is the
   version your edit is based on; if someone changed the post since, the
   update is rejected with a conflict and you must read the post again.
2. Tags are matched by name, case-insensitively. A name the post does not
   have yet creates a new tag on the server.
3. The body is HTML, not Markdown.
4. Only title, status, excerpt, feature_image, tags and the body are sent.
   Every other field is taken from the server.
`
