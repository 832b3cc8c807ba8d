// Package state holds the per-IP, per-path, and per-session aggregate
// containers the analysis engine mutates while processing one log record
// at a time, plus their binary snapshot format.
package state

import (
	"encoding/binary"
	"io"

	"github.com/r3dev/sentryd/internal/stats"
	"github.com/r3dev/sentryd/internal/window"
)

// IPState is the aggregate container for one source IP.
type IPState struct {
	Requests     *window.SlidingWindow[float64]
	FailedLogins *window.SlidingWindow[float64]
	HTML         *window.SlidingWindow[float64]
	Asset        *window.SlidingWindow[float64]
	UniqueUAs    *window.SlidingWindow[string]

	PathsSeen       map[string]struct{}
	MaxPathsStored  int
	LastKnownUA     string

	RequestTime   *stats.Tracker
	BytesSent     *stats.Tracker
	ErrorRate     *stats.Tracker
	RequestVolume *stats.Tracker

	FirstSeenMs int64
	LastSeenMs  int64
}

// NewIPState creates an IPState with fresh windows configured per cfg.
// maxUAWindow caps UniqueUAs by element count (0 lets it ride the
// duration-based prune alone); the cycling detection threshold is a
// separate comparison made by the caller against the pruned count.
func NewIPState(windowDurationMs int64, windowMaxElements, maxUAWindow, maxPathsStored int) *IPState {
	return &IPState{
		Requests:       window.New[float64](windowDurationMs, windowMaxElements),
		FailedLogins:   window.New[float64](windowDurationMs, windowMaxElements),
		HTML:           window.New[float64](windowDurationMs, windowMaxElements),
		Asset:          window.New[float64](windowDurationMs, windowMaxElements),
		UniqueUAs:      window.New[string](windowDurationMs, maxUAWindow),
		PathsSeen:      make(map[string]struct{}),
		MaxPathsStored: maxPathsStored,
		RequestTime:    stats.New(),
		BytesSent:      stats.New(),
		ErrorRate:      stats.New(),
		RequestVolume:  stats.New(),
	}
}

// TryAddPath inserts path into PathsSeen unless the cap has been
// reached, in which case it is dropped silently (the caller logs).
// Returns true if inserted and true if it was new.
func (s *IPState) TryAddPath(path string) (inserted bool, wasNew bool) {
	if _, ok := s.PathsSeen[path]; ok {
		return false, false
	}
	if s.MaxPathsStored > 0 && len(s.PathsSeen) >= s.MaxPathsStored {
		return false, true
	}
	s.PathsSeen[path] = struct{}{}
	return true, true
}

// AssetsPerHTMLRatio returns Asset.Count()/HTML.Count(), or 0 if no HTML.
func (s *IPState) AssetsPerHTMLRatio() float64 {
	if s.HTML.Count() == 0 {
		return 0
	}
	return float64(s.Asset.Count()) / float64(s.HTML.Count())
}

// Reconfigure propagates new window parameters without dropping data.
func (s *IPState) Reconfigure(windowDurationMs int64, windowMaxElements, maxUAWindow int) {
	s.Requests.Reconfigure(windowDurationMs, windowMaxElements)
	s.FailedLogins.Reconfigure(windowDurationMs, windowMaxElements)
	s.HTML.Reconfigure(windowDurationMs, windowMaxElements)
	s.Asset.Reconfigure(windowDurationMs, windowMaxElements)
	s.UniqueUAs.Reconfigure(windowDurationMs, maxUAWindow)
}

// Save writes the IPState in declaration order: five windows, paths-seen
// set, max-paths cap, last-known UA, four trackers, first/last-seen
// timestamps.
func (s *IPState) Save(w io.Writer) error {
	if err := s.Requests.Save(w, window.Float64Codec); err != nil {
		return err
	}
	if err := s.FailedLogins.Save(w, window.Float64Codec); err != nil {
		return err
	}
	if err := s.HTML.Save(w, window.Float64Codec); err != nil {
		return err
	}
	if err := s.Asset.Save(w, window.Float64Codec); err != nil {
		return err
	}
	if err := s.UniqueUAs.Save(w, window.StringCodec); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(s.PathsSeen))); err != nil {
		return err
	}
	for p := range s.PathsSeen {
		if err := writeLPString(w, p); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, int64(s.MaxPathsStored)); err != nil {
		return err
	}
	if err := writeLPString(w, s.LastKnownUA); err != nil {
		return err
	}

	for _, t := range []*stats.Tracker{s.RequestTime, s.BytesSent, s.ErrorRate, s.RequestVolume} {
		if err := t.Save(w); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, s.FirstSeenMs); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, s.LastSeenMs)
}

// LoadIPState reads the format written by Save.
func LoadIPState(r io.Reader) (*IPState, error) {
	s := &IPState{PathsSeen: make(map[string]struct{})}
	var err error

	if s.Requests, err = window.Load[float64](r, window.Float64Codec); err != nil {
		return nil, err
	}
	if s.FailedLogins, err = window.Load[float64](r, window.Float64Codec); err != nil {
		return nil, err
	}
	if s.HTML, err = window.Load[float64](r, window.Float64Codec); err != nil {
		return nil, err
	}
	if s.Asset, err = window.Load[float64](r, window.Float64Codec); err != nil {
		return nil, err
	}
	if s.UniqueUAs, err = window.Load[string](r, window.StringCodec); err != nil {
		return nil, err
	}

	var pathCount uint64
	if err := binary.Read(r, binary.LittleEndian, &pathCount); err != nil {
		return nil, err
	}
	for i := uint64(0); i < pathCount; i++ {
		p, err := readLPString(r)
		if err != nil {
			return nil, err
		}
		s.PathsSeen[p] = struct{}{}
	}
	var maxPaths int64
	if err := binary.Read(r, binary.LittleEndian, &maxPaths); err != nil {
		return nil, err
	}
	s.MaxPathsStored = int(maxPaths)

	if s.LastKnownUA, err = readLPString(r); err != nil {
		return nil, err
	}

	trackers := make([]*stats.Tracker, 4)
	for i := range trackers {
		if trackers[i], err = stats.Load(r); err != nil {
			return nil, err
		}
	}
	s.RequestTime, s.BytesSent, s.ErrorRate, s.RequestVolume = trackers[0], trackers[1], trackers[2], trackers[3]

	if err := binary.Read(r, binary.LittleEndian, &s.FirstSeenMs); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &s.LastSeenMs); err != nil {
		return nil, err
	}
	return s, nil
}

func writeLPString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLPString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
