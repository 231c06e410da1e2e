package service

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/bwmarrin/snowflake"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
)

const (
	// MinStep is the least the cursor advances per iteration.
	MinStep = 1.0
	// IdleStep is the advance when no category is drawn.
	IdleStep = 5.0
	minSpan  = 1.0
	minGap   = 2.0
	maxGap   = 10.0
)

// SourceFactory returns the random generator used for one submission.
type SourceFactory func(submissionID snowflake.ID) *rand.Rand

// SeededSource derives a PCG stream from the submission id so repeated
// extraction of the same video yields the same scenarios.
func SeededSource(salt uint64) SourceFactory {
	return func(submissionID snowflake.ID) *rand.Rand {
		return rand.New(rand.NewPCG(uint64(submissionID), salt))
	}
}

// FrequencyExtractor approximates a perception model by sampling the
// frequency table along the video timeline.
type FrequencyExtractor struct {
	table  []scenariodomain.Frequency
	source SourceFactory
}

func NewFrequencyExtractor(table []scenariodomain.Frequency, source SourceFactory) *FrequencyExtractor {
	if len(table) == 0 {
		table = scenariodomain.DefaultFrequencies
	}
	if source == nil {
		source = SeededSource(0x5ce4a710)
	}
	return &FrequencyExtractor{table: table, source: source}
}

// Extract walks a cursor from 0 to the duration. Each step draws at most one
// category, emits a range clipped to the video and jumps past it plus a
// random gap, so the loop ends after at most duration/MinStep iterations.
func (e *FrequencyExtractor) Extract(ctx context.Context, req scenariodomain.Request) ([]scenariodomain.Detection, error) {
	duration := req.DurationSeconds
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, scenariodomain.ErrNoDuration
	}
	if req.MaxDurationSeconds > 0 && duration > req.MaxDurationSeconds {
		return nil, scenariodomain.ErrDurationTooLong
	}

	rng := e.source(req.SubmissionID)
	conditions := drawConditions(rng)

	var out []scenariodomain.Detection
	cursor := 0.0
	for cursor < duration {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		freq, ok := e.draw(rng.Float64())
		if !ok {
			cursor += IdleStep
			continue
		}

		span := freq.AvgSpan + freq.Variance*(2*rng.Float64()-1)
		if span < minSpan {
			span = minSpan
		}
		end := math.Min(cursor+span, duration)

		tags := append([]scenariodomain.Tag{}, conditions...)
		tags = append(tags, freq.Tags...)
		if freq.Category.IsEdgeCase() {
			tags = append(tags, scenariodomain.TagEdgeCase)
		}

		out = append(out, scenariodomain.Detection{
			Category:   freq.Category,
			Start:      round2(cursor),
			End:        round2(end),
			Confidence: round2(confidence(rng, freq.Category.IsEdgeCase())),
			Tags:       scenariodomain.NewTagSet(tags...),
		})

		gap := minGap + rng.Float64()*(maxGap-minGap)
		cursor = math.Max(end+gap, cursor+MinStep)
	}
	return dropDegenerate(out, duration), nil
}

func (e *FrequencyExtractor) draw(u float64) (scenariodomain.Frequency, bool) {
	cumulative := 0.0
	for _, freq := range e.table {
		cumulative += freq.Probability
		if u < cumulative {
			return freq, true
		}
	}
	return scenariodomain.Frequency{}, false
}

// drawConditions picks the time of day and weather once per video.
func drawConditions(rng *rand.Rand) []scenariodomain.Tag {
	var daylight scenariodomain.Tag
	switch u := rng.Float64(); {
	case u < 0.6:
		daylight = scenariodomain.TagDay
	case u < 0.75:
		daylight = scenariodomain.TagDusk
	default:
		daylight = scenariodomain.TagNight
	}

	var weather scenariodomain.Tag
	switch u := rng.Float64(); {
	case u < 0.65:
		weather = scenariodomain.TagClear
	case u < 0.85:
		weather = scenariodomain.TagRain
	case u < 0.93:
		weather = scenariodomain.TagFog
	default:
		weather = scenariodomain.TagSnow
	}
	return []scenariodomain.Tag{daylight, weather}
}

func confidence(rng *rand.Rand, rare bool) float64 {
	if rare {
		return 0.5 + 0.45*rng.Float64()
	}
	return 0.6 + 0.39*rng.Float64()
}

// dropDegenerate removes ranges that rounding collapsed.
func dropDegenerate(in []scenariodomain.Detection, duration float64) []scenariodomain.Detection {
	out := in[:0]
	for _, d := range in {
		if d.End > duration {
			d.End = duration
		}
		if d.Start < 0 || d.Start >= d.End {
			continue
		}
		out = append(out, d)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
