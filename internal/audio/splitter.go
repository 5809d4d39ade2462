package audio

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"asrgate/internal/apperr"
)

// Region is a half-open speech span in milliseconds.
type Region struct {
	StartMS int
	EndMS   int
}

// DurationMS returns the region length in milliseconds.
func (r Region) DurationMS() int { return r.EndMS - r.StartMS }

// Segment is one piece of a split recording, backed by a WAV file on disk.
// Path points at the source file itself when no split was needed; owned
// marks scratch files the cleanup closure removes.
type Segment struct {
	StartMS int
	EndMS   int
	Path    string
	owned   bool
}

// StartSec returns the segment start in seconds.
func (s Segment) StartSec() float64 { return float64(s.StartMS) / 1000.0 }

// EndSec returns the segment end in seconds.
func (s Segment) EndSec() float64 { return float64(s.EndMS) / 1000.0 }

// VADSource detects speech regions in an audio file.
type VADSource interface {
	Detect(ctx context.Context, samples []float32, sampleRate int) ([]Region, error)
}

// Splitter cuts long recordings into subtitle-sized pieces at VAD-detected
// speech boundaries.
type Splitter struct {
	MaxSegmentSec float64
	MinSegmentSec float64
	TempDir       string
	VAD           VADSource
}

// Split divides the recording into segments no longer than MaxSegmentSec,
// cutting at speech-region boundaries where possible. Recordings that fit
// in a single segment are returned as-is without touching disk. The
// returned cleanup func removes all scratch files and is safe to call even
// on error paths.
func (sp *Splitter) Split(ctx context.Context, path string, buf *Buffer) ([]Segment, func(), error) {
	if sp.MaxSegmentSec <= 0 {
		return nil, func() {}, fmt.Errorf("%w: max segment length must be positive, got %g", apperr.ErrInvalidMessage, sp.MaxSegmentSec)
	}

	maxMS := int(sp.MaxSegmentSec * 1000)
	minMS := int(sp.MinSegmentSec * 1000)
	totalMS := buf.DurationMS()

	if totalMS <= maxMS {
		seg := Segment{StartMS: 0, EndMS: totalMS, Path: path}
		return []Segment{seg}, func() {}, nil
	}

	var regions []Region
	if sp.VAD != nil {
		var err error
		regions, err = sp.VAD.Detect(ctx, buf.Samples, buf.SampleRate)
		if err != nil {
			return nil, func() {}, fmt.Errorf("%w: speech detection failed: %v", apperr.ErrEngineFailure, err)
		}
	}

	merged := mergeGreedy(regions, totalMS, maxMS, minMS)

	segments := make([]Segment, 0, len(merged))
	cleanup := func() {
		for _, s := range segments {
			if s.owned {
				if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
					log.Printf("failed to remove scratch segment %s: %v", s.Path, err)
				}
			}
		}
	}

	for idx, r := range merged {
		startSample := r.StartMS * buf.SampleRate / 1000
		endSample := r.EndMS * buf.SampleRate / 1000
		if endSample > len(buf.Samples) {
			endSample = len(buf.Samples)
		}
		if startSample >= endSample {
			continue
		}

		name := fmt.Sprintf("segment_%03d_%s.wav", idx, strings.ReplaceAll(uuid.NewString(), "-", ""))
		scratch := filepath.Join(sp.TempDir, name)
		if err := WriteWavFile(scratch, buf.Samples[startSample:endSample], buf.SampleRate); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("%w: failed to write scratch segment: %v", apperr.ErrTransient, err)
		}
		segments = append(segments, Segment{StartMS: r.StartMS, EndMS: r.EndMS, Path: scratch, owned: true})
	}

	return segments, cleanup, nil
}

// mergeGreedy absorbs consecutive speech regions until adding the next one
// would exceed maxMS, then cuts at the previous region's end. Regions
// longer than maxMS on their own are force-split into maxMS slices. The
// leading silence before an overlong region becomes its own segment when
// it is at least minMS; a trailing remainder longer than minMS is appended
// as a final segment.
func mergeGreedy(regions []Region, totalMS, maxMS, minMS int) []Region {
	if maxMS <= 0 {
		return nil
	}
	if len(regions) == 0 {
		return splitFixed(totalMS, maxMS, minMS)
	}

	var merged []Region
	currentStart := 0
	i := 0

	for i < len(regions) {
		segStart, segEnd := regions[i].StartMS, regions[i].EndMS

		if segEnd-currentStart <= maxMS {
			i++
			if i >= len(regions) {
				finalEnd := segEnd
				if finalEnd > totalMS {
					finalEnd = totalMS
				}
				if finalEnd > currentStart {
					merged = append(merged, Region{currentStart, finalEnd})
				}
			}
			continue
		}

		// Including this region would overflow the budget.
		if i == 0 || (len(merged) == 0 && currentStart == 0) {
			currentStart = forceSplit(&merged, currentStart, segStart, segEnd, maxMS, minMS)
			i++
			if i >= len(regions) && segEnd > currentStart {
				merged = append(merged, Region{currentStart, segEnd})
			}
			continue
		}

		prevEnd := regions[i-1].EndMS
		if prevEnd > currentStart {
			// Cut at the previous region's end and re-evaluate this one.
			merged = append(merged, Region{currentStart, prevEnd})
			currentStart = prevEnd
			continue
		}

		// Already cut up to here: this single region overflows on its own.
		currentStart = forceSplit(&merged, currentStart, segStart, segEnd, maxMS, minMS)
		i++
		if i >= len(regions) && segEnd > currentStart {
			merged = append(merged, Region{currentStart, segEnd})
		}
	}

	if len(merged) > 0 {
		lastEnd := merged[len(merged)-1].EndMS
		if totalMS-lastEnd > minMS {
			merged = append(merged, Region{lastEnd, totalMS})
		}
	}

	return merged
}

// forceSplit emits the pre-gap before an overlong region (when long
// enough), then slices the region into maxMS pieces, returning the new
// cursor position.
func forceSplit(merged *[]Region, currentStart, segStart, segEnd, maxMS, minMS int) int {
	if segStart > currentStart && segStart-currentStart >= minMS {
		*merged = append(*merged, Region{currentStart, segStart})
		currentStart = segStart
	}
	for segEnd-currentStart > maxMS {
		cut := currentStart + maxMS
		*merged = append(*merged, Region{currentStart, cut})
		currentStart = cut
	}
	return currentStart
}

// splitFixed cuts the whole duration into maxMS slices when no speech
// regions are available. A final slice shorter than minMS is dropped.
func splitFixed(totalMS, maxMS, minMS int) []Region {
	if maxMS <= 0 {
		return nil
	}
	var segments []Region
	current := 0
	for current < totalMS {
		end := current + maxMS
		if end > totalMS {
			end = totalMS
		}
		if end-current >= minMS {
			segments = append(segments, Region{current, end})
		}
		current = end
	}
	return segments
}
