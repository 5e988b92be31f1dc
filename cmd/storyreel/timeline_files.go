package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bobarin/storyreel/internal/timeline"
)

// Timeline files hold either objects ({"start":0,"end":2,"text":"..."}) or
// pairs ([[0, 2], "..."]). An empty path means an empty track.

func loadCaptions(path string) ([]timeline.CaptionSegment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read captions: %w", err)
	}

	var captions []timeline.CaptionSegment
	if err := json.Unmarshal(data, &captions); err == nil {
		return captions, nil
	}

	pairs, err := decodePairs(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse captions %s: %w", path, err)
	}
	captions = make([]timeline.CaptionSegment, 0, len(pairs))
	for _, p := range pairs {
		captions = append(captions, timeline.CaptionSegment{Interval: p.Interval, Text: p.Value})
	}
	return captions, nil
}

func loadVisuals(path string) ([]timeline.VisualSegment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read visuals: %w", err)
	}

	var visuals []timeline.VisualSegment
	if err := json.Unmarshal(data, &visuals); err == nil {
		return visuals, nil
	}

	pairs, err := decodePairs(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse visuals %s: %w", path, err)
	}
	visuals = make([]timeline.VisualSegment, 0, len(pairs))
	for _, p := range pairs {
		visuals = append(visuals, timeline.VisualSegment{Interval: p.Interval, URL: p.Value})
	}
	return visuals, nil
}

type timedPair struct {
	timeline.Interval
	Value string
}

// decodePairs reads [[[start, end], value], ...]. A null value is kept as "".
func decodePairs(data []byte) ([]timedPair, error) {
	var raw [][2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	pairs := make([]timedPair, 0, len(raw))
	for i, r := range raw {
		var bounds [2]float64
		if err := json.Unmarshal(r[0], &bounds); err != nil {
			return nil, fmt.Errorf("entry %d: bad interval: %w", i, err)
		}
		var value *string
		if err := json.Unmarshal(r[1], &value); err != nil {
			return nil, fmt.Errorf("entry %d: bad value: %w", i, err)
		}
		p := timedPair{Interval: timeline.Interval{Start: bounds[0], End: bounds[1]}}
		if value != nil {
			p.Value = *value
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}
