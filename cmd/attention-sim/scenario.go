package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/teslashibe/go-attention/pkg/pose"
)

// step holds one pose for a duration.
type step struct {
	label    string
	duration time.Duration
	face     bool
	yaw      float64
	pitch    float64
	eyesOpen bool
}

func focused(d time.Duration) step {
	return step{label: "focused", duration: d, face: true, eyesOpen: true}
}

func lookAway(d time.Duration) step {
	return step{label: "looking away", duration: d, face: true, yaw: 50, eyesOpen: true}
}

func lookDown(d time.Duration) step {
	return step{label: "looking down", duration: d, face: true, pitch: 40, eyesOpen: true}
}

func eyesClosed(d time.Duration) step {
	return step{label: "eyes closed", duration: d, face: true, eyesOpen: false}
}

func away(d time.Duration) step {
	return step{label: "away", duration: d}
}

var scenarios = map[string][]step{
	"focused":    {focused(60 * time.Second)},
	"distracted": {focused(3 * time.Second), lookAway(40 * time.Second)},
	// Locally this is looking down; only an oracle can tag it as phone use.
	"phone":  {focused(3 * time.Second), lookDown(40 * time.Second)},
	"drowsy": {focused(3 * time.Second), eyesClosed(40 * time.Second)},
	"away":   {focused(3 * time.Second), away(30 * time.Second)},
	// Climbs to level 2, then earns a focus reset.
	"recover": {focused(3 * time.Second), lookAway(17 * time.Second), focused(35 * time.Second)},
	// Glances that never last long enough to escalate.
	"glances": {
		focused(5 * time.Second), lookAway(3 * time.Second),
		focused(5 * time.Second), lookAway(3 * time.Second),
		focused(5 * time.Second), lookAway(3 * time.Second),
		focused(5 * time.Second),
	},
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupScenario(name string) ([]step, error) {
	steps, ok := scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (have %v)", name, scenarioNames())
	}
	return steps, nil
}

// frame is one landmark sample to send.
type frame struct {
	at         time.Duration
	label      string
	points     []pose.Point
	confidence float64
}

// frames expands a scenario into samples every interval.
func frames(steps []step, interval time.Duration) []frame {
	var out []frame
	var offset time.Duration
	for _, s := range steps {
		for t := time.Duration(0); t < s.duration; t += interval {
			f := frame{at: offset + t, label: s.label}
			if s.face {
				f.points = pose.Synthetic(s.yaw, s.pitch, s.eyesOpen)
				f.confidence = 0.95
			}
			out = append(out, f)
		}
		offset += s.duration
	}
	return out
}

func totalDuration(steps []step) time.Duration {
	var d time.Duration
	for _, s := range steps {
		d += s.duration
	}
	return d
}
