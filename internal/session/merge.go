package session

import (
	"time"

	"github.com/cadenza-audio/cadenza/pkg/provider/diarize"
)

// MergeSpeakers assigns a speaker label to each entry by timestamp overlap:
// the turn sharing the most time with the entry's segment wins. Entries with
// no overlapping turn keep an empty label. The input slice is labeled in
// place and returned.
func MergeSpeakers(entries []Entry, turns []diarize.Turn) []Entry {
	for i := range entries {
		seg := entries[i].Segment

		var (
			best        string
			bestOverlap time.Duration
		)
		for _, turn := range turns {
			if !turn.Overlaps(seg.Start, seg.End) {
				continue
			}
			o := overlap(seg.Start, seg.End, turn.Start, turn.End)
			if o > bestOverlap {
				bestOverlap = o
				best = turn.Speaker
			}
		}
		entries[i].Speaker = best
	}
	return entries
}

func overlap(aStart, aEnd, bStart, bEnd time.Duration) time.Duration {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}
