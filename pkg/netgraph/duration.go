package netgraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/shadow-sim/engine/pkg/simtime"
)

// Duration parses the graph file's `"1 ms"`-style latency strings into
// nanoseconds, accepting the same unit suffixes as time.ParseDuration
// after normalizing the graph format's single space between value and
// unit (e.g. "1 ms" -> "1ms").
type Duration simtime.SimulationTime

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return fmt.Errorf("netgraph: invalid duration %q: %w", s, err)
	}

	*d = Duration(simtime.FromDuration(parsed))
	return nil
}

// SimTime returns the duration as a SimulationTime.
func (d Duration) SimTime() simtime.SimulationTime {
	return simtime.SimulationTime(d)
}
