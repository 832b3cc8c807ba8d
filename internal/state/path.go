package state

import (
	"encoding/binary"
	"io"

	"github.com/r3dev/sentryd/internal/stats"
)

// PathState is the aggregate container for one request path.
type PathState struct {
	RequestTime   *stats.Tracker
	BytesSent     *stats.Tracker
	ErrorRate     *stats.Tracker
	RequestVolume *stats.Tracker

	SecurityCritical bool
	LastSeenMs       int64
}

// NewPathState creates a PathState with fresh trackers.
func NewPathState() *PathState {
	return &PathState{
		RequestTime:   stats.New(),
		BytesSent:     stats.New(),
		ErrorRate:     stats.New(),
		RequestVolume: stats.New(),
	}
}

// Save writes the PathState: four trackers, a critical flag, last-seen.
func (s *PathState) Save(w io.Writer) error {
	for _, t := range []*stats.Tracker{s.RequestTime, s.BytesSent, s.ErrorRate, s.RequestVolume} {
		if err := t.Save(w); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, s.SecurityCritical); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, s.LastSeenMs)
}

// LoadPathState reads the format written by Save.
func LoadPathState(r io.Reader) (*PathState, error) {
	s := &PathState{}
	trackers := make([]*stats.Tracker, 4)
	var err error
	for i := range trackers {
		if trackers[i], err = stats.Load(r); err != nil {
			return nil, err
		}
	}
	s.RequestTime, s.BytesSent, s.ErrorRate, s.RequestVolume = trackers[0], trackers[1], trackers[2], trackers[3]

	if err := binary.Read(r, binary.LittleEndian, &s.SecurityCritical); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &s.LastSeenMs); err != nil {
		return nil, err
	}
	return s, nil
}
