package extract

import (
	"sort"
	"strings"

	"github.com/protocolpilot/protocolpilot/internal/entity"
)

// Window is a contiguous span of pages submitted together to the reasoning
// service.
type Window struct {
	Start uint
	End   uint // inclusive
	Text  string
}

// BuildWindows slides a window of windowSize consecutive pages, advancing by
// stride, over the triaged page indices plus their immediate neighbors
// (parameters are often split across a page boundary). Triaged indices that
// are not contiguous produce separate window runs; a run shorter than the
// window still yields one clamped window so an isolated page is never
// dropped.
func BuildWindows(pages []entity.PageRecord, triaged []entity.SectionCandidate, windowSize, stride int) []Window {
	if len(pages) == 0 || len(triaged) == 0 {
		return nil
	}
	if windowSize < 1 {
		windowSize = 1
	}
	if stride < 1 {
		stride = 1
	}

	maxIndex := pages[len(pages)-1].Index
	allowed := make(map[uint]struct{})
	for _, c := range triaged {
		if c.PageIndex > maxIndex {
			continue
		}
		allowed[c.PageIndex] = struct{}{}
		if c.PageIndex > 0 {
			allowed[c.PageIndex-1] = struct{}{}
		}
		if c.PageIndex < maxIndex {
			allowed[c.PageIndex+1] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	indices := make([]uint, 0, len(allowed))
	for idx := range allowed {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	byIndex := make(map[uint]string, len(pages))
	for _, p := range pages {
		byIndex[p.Index] = p.Text
	}

	var windows []Window
	for _, run := range contiguousRuns(indices) {
		lo, hi := run[0], run[len(run)-1]
		if int(hi-lo)+1 < windowSize {
			windows = append(windows, makeWindow(lo, hi, byIndex))
			continue
		}
		for start := lo; start+uint(windowSize)-1 <= hi; start += uint(stride) {
			windows = append(windows, makeWindow(start, start+uint(windowSize)-1, byIndex))
		}
	}
	return windows
}

func contiguousRuns(sorted []uint) [][]uint {
	var runs [][]uint
	var cur []uint
	for _, idx := range sorted {
		if len(cur) > 0 && idx != cur[len(cur)-1]+1 {
			runs = append(runs, cur)
			cur = nil
		}
		cur = append(cur, idx)
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

func makeWindow(start, end uint, byIndex map[uint]string) Window {
	var chunks []string
	for i := start; i <= end; i++ {
		if t := strings.TrimSpace(byIndex[i]); t != "" {
			chunks = append(chunks, t)
		}
	}
	return Window{Start: start, End: end, Text: strings.Join(chunks, "\n\n")}
}
