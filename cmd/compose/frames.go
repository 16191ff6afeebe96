package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/compose/imagekey"
)

// parseFrameRanges parses the --frames flag's "a-b[,c-d]" syntax (spec.md
// §6 CLI surface) into the ordered, flattened list of frame times to
// render. A bare "a" (no dash) names a single frame. Ranges are inclusive
// on both ends and rendered in ascending order regardless of how a-b
// compares. run does not call it: admission to the scheduler is done
// per-span from parseFrameRangeSpans, not per-frame.
func parseFrameRanges(spec string) ([]imagekey.Time, error) {
	if spec == "" {
		return nil, fmt.Errorf("--frames must not be empty")
	}

	var frames []imagekey.Time
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseOneRange(part)
		if err != nil {
			return nil, err
		}
		for f := lo; f <= hi; f++ {
			frames = append(frames, imagekey.Time(f))
		}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("--frames %q named no frames", spec)
	}
	return frames, nil
}

// frameSpan is one inclusive [Lo, Hi] span parsed from --frames, the unit
// run() submits to the scheduler as a single IntentRenderRange admission
// (spec.md §4.4) — every frame in one comma-separated span shares one
// render age, unlike the flattened per-frame list parseFrameRanges returns.
type frameSpan struct {
	Lo, Hi imagekey.Time
}

// parseFrameRangeSpans parses the --frames flag the same way
// parseFrameRanges does, but keeps each comma-separated "a-b" span intact
// instead of flattening it, so each one can be submitted to the scheduler
// as its own render_range([a,b]) (spec.md §4.4).
func parseFrameRangeSpans(spec string) ([]frameSpan, error) {
	if spec == "" {
		return nil, fmt.Errorf("--frames must not be empty")
	}

	var spans []frameSpan
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseOneRange(part)
		if err != nil {
			return nil, err
		}
		spans = append(spans, frameSpan{Lo: imagekey.Time(lo), Hi: imagekey.Time(hi)})
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("--frames %q named no frames", spec)
	}
	return spans, nil
}

func parseOneRange(part string) (lo, hi int, err error) {
	dash := strings.IndexByte(part, '-')
	if dash < 0 {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, fmt.Errorf("--frames: invalid frame %q: %w", part, err)
		}
		return n, n, nil
	}
	loStr, hiStr := part[:dash], part[dash+1:]
	lo, err = strconv.Atoi(loStr)
	if err != nil {
		return 0, 0, fmt.Errorf("--frames: invalid range %q: %w", part, err)
	}
	hi, err = strconv.Atoi(hiStr)
	if err != nil {
		return 0, 0, fmt.Errorf("--frames: invalid range %q: %w", part, err)
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi, nil
}
