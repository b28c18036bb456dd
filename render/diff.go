package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jmgilman/gitweb/content"
	"github.com/jmgilman/gitweb/git"
)

// DiffVersion is folded into diff cache keys.
const DiffVersion = 1

// statWidth is the widest a diffstat bar gets.
const statWidth = 50

// DiffText renders d as a diffstat, a summary line and a unified diff.
func DiffText(d *content.Diff) []byte {
	var b bytes.Buffer
	writeStat(&b, d)
	for i := range d.Files {
		b.WriteByte('\n')
		writeFile(&b, &d.Files[i])
	}
	return b.Bytes()
}

func writeStat(b *bytes.Buffer, d *content.Diff) {
	nameWidth, most := 0, 0
	for i := range d.Files {
		f := &d.Files[i]
		nameWidth = max(nameWidth, len(statName(f)))
		most = max(most, f.Additions+f.Deletions)
	}

	for i := range d.Files {
		f := &d.Files[i]
		fmt.Fprintf(b, " %-*s | ", nameWidth, statName(f))
		switch {
		case f.Binary:
			b.WriteString("Bin")
		case f.Oversize:
			b.WriteString("...")
		default:
			adds, dels := scale(f.Additions, most), scale(f.Deletions, most)
			fmt.Fprintf(b, "%d %s%s", f.Additions+f.Deletions, strings.Repeat("+", adds), strings.Repeat("-", dels))
		}
		b.WriteByte('\n')
	}

	files, additions, deletions := d.Stats()
	fmt.Fprintf(b, " %d %s changed", files, plural(files, "file", "files"))
	if additions > 0 || files == 0 {
		fmt.Fprintf(b, ", %d %s(+)", additions, plural(additions, "insertion", "insertions"))
	}
	if deletions > 0 || files == 0 {
		fmt.Fprintf(b, ", %d %s(-)", deletions, plural(deletions, "deletion", "deletions"))
	}
	b.WriteByte('\n')
}

func statName(f *content.FileDiff) string {
	if f.Action == git.ChangeRename {
		return f.OldPath + " => " + f.NewPath
	}
	return f.Path()
}

// scale fits n into the bar width relative to the largest change, keeping
// any non-zero count visible.
func scale(n, most int) int {
	if most <= statWidth || n == 0 {
		return n
	}
	return max(1, n*statWidth/most)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func writeFile(b *bytes.Buffer, f *content.FileDiff) {
	oldPath, newPath := f.OldPath, f.NewPath
	if oldPath == "" {
		oldPath = newPath
	}
	if newPath == "" {
		newPath = oldPath
	}
	fmt.Fprintf(b, "diff --git a/%s b/%s\n", oldPath, newPath)

	switch f.Action {
	case git.ChangeInsert:
		fmt.Fprintf(b, "new file mode %s\n", f.NewMode)
	case git.ChangeDelete:
		fmt.Fprintf(b, "deleted file mode %s\n", f.OldMode)
	case git.ChangeRename:
		fmt.Fprintf(b, "rename from %s\nrename to %s\n", f.OldPath, f.NewPath)
	}
	if f.Action == git.ChangeModify && f.OldMode != f.NewMode {
		fmt.Fprintf(b, "old mode %s\nnew mode %s\n", f.OldMode, f.NewMode)
	}
	if f.OldID == f.NewID {
		return
	}
	fmt.Fprintf(b, "index %s..%s\n", f.OldID.Short(), f.NewID.Short())

	from, to := "a/"+oldPath, "b/"+newPath
	if f.Action == git.ChangeInsert {
		from = "/dev/null"
	}
	if f.Action == git.ChangeDelete {
		to = "/dev/null"
	}

	switch {
	case f.Binary:
		fmt.Fprintf(b, "Binary files %s and %s differ\n", from, to)
		return
	case f.Oversize:
		b.WriteString("File too large to diff\n")
		return
	}

	if len(f.Hunks) == 0 {
		return
	}
	fmt.Fprintf(b, "--- %s\n+++ %s\n", from, to)
	for _, h := range f.Hunks {
		fmt.Fprintf(b, "@@ -%s +%s @@\n", hunkRange(h.OldStart, h.OldLines), hunkRange(h.NewStart, h.NewLines))
		for _, line := range h.Lines {
			switch line.Kind {
			case content.LineAdded:
				b.WriteByte('+')
			case content.LineDeleted:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(line.Text)
			b.WriteByte('\n')
		}
	}
}

func hunkRange(start, lines int) string {
	if lines == 1 {
		return fmt.Sprint(start)
	}
	return fmt.Sprintf("%d,%d", start, lines)
}
