package shard

import (
	"fmt"

	"github.com/jrife/arbor/tree"
	"github.com/jrife/arbor/utils/sortedwindow"
)

type commitRecord struct {
	revision int64
	paths    []tree.Path
}

// history remembers the paths touched by recent commits.
// Commits at or below floor have been forgotten.
type history struct {
	window *sortedwindow.SortedMaxWindow
	floor  int64
}

func newHistory(limit int, floor int64) *history {
	return &history{
		window: sortedwindow.New(func(a, b interface{}) int {
			ra, rb := a.(commitRecord).revision, b.(commitRecord).revision

			if ra < rb {
				return -1
			} else if ra > rb {
				return 1
			}

			return 0
		}, sortedwindow.WithLimit(limit)),
		floor: floor,
	}
}

func (h *history) record(revision int64, paths []tree.Path) {
	if evicted, ok := h.window.Insert(commitRecord{revision: revision, paths: paths}); ok {
		h.floor = evicted.(commitRecord).revision
	}
}

// conflict explains why request cannot commit on top of the commits
// made after its base revision. It returns an empty string if it can.
// Requests that read nothing never conflict.
func (h *history) conflict(request CommitRequest) string {
	if len(request.Reads) == 0 {
		return ""
	}

	if request.BaseRevision < h.floor {
		return fmt.Sprintf("base revision %d predates the retained history starting after %d", request.BaseRevision, h.floor)
	}

	touched := make([]tree.Path, 0, len(request.Reads)+len(request.Modifications))
	touched = append(touched, request.Reads...)

	for _, mod := range request.Modifications {
		touched = append(touched, mod.Path)
	}

	for iter := h.window.Iterator(); iter.Next(); {
		record := iter.Value().(commitRecord)

		if record.revision <= request.BaseRevision {
			continue
		}

		for _, committed := range record.paths {
			for _, path := range touched {
				if committed.Overlaps(path) {
					return fmt.Sprintf("%s overlaps %s committed at revision %d", path, committed, record.revision)
				}
			}
		}
	}

	return ""
}
