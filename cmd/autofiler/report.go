package main

import (
	"fmt"
	"io"

	"github.com/pepperpark/autofiler/internal/stats"
)

// writeReport prints the per-mailbox breakdown of t and, when prev holds an
// earlier run, how the totals changed since then.
func writeReport(w io.Writer, t, prev *stats.Totals) {
	if t == nil {
		return
	}
	names := t.MailboxNames()
	if len(names) > 0 {
		fmt.Fprintln(w, "Mailboxes:")
	}
	for _, name := range names {
		mb := t.Mailboxes[name]
		fmt.Fprintf(w, "  %s: seen %d, processed %d, unmatched %d, errors %d\n",
			name, mb.Seen, mb.Processed, mb.Unmatched, mb.Errors)
	}
	if prev == nil || (prev.Seen == 0 && len(prev.Mailboxes) == 0) {
		return
	}
	fmt.Fprintf(w, "Since the previous run: seen %+d, processed %+d, unmatched %+d, errors %+d\n",
		t.Seen-prev.Seen, t.Processed-prev.Processed, t.Unmatched-prev.Unmatched, t.Errors-prev.Errors)
}
