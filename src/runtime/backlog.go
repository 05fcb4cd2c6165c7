package runtime

import (
	"fmt"

	"github.com/tanema/lvm/bytecode"
	"github.com/tanema/lvm/src/proto"
)

type (
	// Backlog keeps the last n instructions the vm executed so that a failure
	// can show what led up to it. Entries are only formatted when read.
	Backlog struct {
		entries []traceEntry
		next    int
		full    bool
	}
	traceEntry struct {
		fn          *proto.Prototype
		pc          int64
		depth       int
		instruction uint32
		note        string
	}
)

// NewBacklog creates a backlog holding at most size entries.
func NewBacklog(size int) *Backlog {
	return &Backlog{entries: make([]traceEntry, max(size, 1))}
}

func (b *Backlog) push(entry traceEntry) {
	b.entries[b.next] = entry
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
}

// Push records a free form line, dropping the oldest entry once full.
func (b *Backlog) Push(line string) { b.push(traceEntry{note: line}) }

// annotate attaches a note to the most recent entry.
func (b *Backlog) annotate(note string) {
	last := b.next - 1
	if last < 0 {
		if !b.full {
			return
		}
		last = len(b.entries) - 1
	}
	if b.entries[last].note == "" {
		b.entries[last].note = note
	} else {
		b.entries[last].note += " " + note
	}
}

func (b *Backlog) last() traceEntry {
	return b.entries[(b.next+len(b.entries)-1)%len(b.entries)]
}

// Len is the number of entries kept.
func (b *Backlog) Len() int {
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Lines returns the kept entries formatted, oldest first.
func (b *Backlog) Lines() []string {
	lines := make([]string, 0, b.Len())
	if b.full {
		for _, entry := range b.entries[b.next:] {
			lines = append(lines, entry.String())
		}
	}
	for _, entry := range b.entries[:b.next] {
		lines = append(lines, entry.String())
	}
	return lines
}

// Reset drops every entry.
func (b *Backlog) Reset() {
	clear(b.entries)
	b.next = 0
	b.full = false
}

func (entry traceEntry) String() string {
	if entry.fn == nil {
		return entry.note
	}
	line := fmt.Sprintf(
		"%-3v %-24v %4v %v",
		entry.depth,
		entry.fn.Name(),
		entry.pc,
		bytecode.ToString(entry.instruction),
	)
	if entry.note != "" {
		line += " ; " + entry.note
	}
	return line
}
