package state

import (
	"encoding/binary"
	"io"
)

// RequestSummary is one entry in a session's bounded request history.
type RequestSummary struct {
	TimestampMs int64
	Path        string
	Method      string
	Status      int
}

// SessionState aggregates behavior across one session key (composed per
// spec.md §4.6 step 8 from IP + UA, or IP + cookie/header when present).
type SessionState struct {
	RequestCount int64
	FirstSeenMs  int64
	LastSeenMs   int64

	UniquePaths map[string]struct{}
	GetCount    int64
	PostCount   int64

	LastUA    string
	UAChanges int64

	ErrorCount       int64
	FailedLoginCount int64

	History    []RequestSummary
	MaxHistory int
}

// NewSessionState creates a SessionState with a bounded history of maxHistory entries.
func NewSessionState(maxHistory int) *SessionState {
	if maxHistory <= 0 {
		maxHistory = 50
	}
	return &SessionState{
		UniquePaths: make(map[string]struct{}),
		MaxHistory:  maxHistory,
	}
}

// RecordRequest folds one request into the session, tracking method
// counts, UA drift, unique-path cardinality, and the bounded history.
func (s *SessionState) RecordRequest(tsMs int64, path, method, ua string, status int, isFailedLogin bool) {
	if s.RequestCount == 0 {
		s.FirstSeenMs = tsMs
		s.LastUA = ua
	}
	s.RequestCount++
	s.LastSeenMs = tsMs
	s.UniquePaths[path] = struct{}{}

	if status >= 400 {
		s.ErrorCount++
	}
	if isFailedLogin {
		s.FailedLoginCount++
	}

	switch method {
	case "GET":
		s.GetCount++
	case "POST":
		s.PostCount++
	}

	if s.LastUA != "" && ua != "" && ua != s.LastUA {
		s.UAChanges++
	}
	if ua != "" {
		s.LastUA = ua
	}

	s.History = append(s.History, RequestSummary{TimestampMs: tsMs, Path: path, Method: method, Status: status})
	if len(s.History) > s.MaxHistory {
		s.History = s.History[len(s.History)-s.MaxHistory:]
	}
}

// AvgTimeBetweenRequestsS returns the mean inter-request gap in seconds,
// or 0 for sessions with fewer than two requests.
func (s *SessionState) AvgTimeBetweenRequestsS() float64 {
	if s.RequestCount < 2 {
		return 0
	}
	spanMs := float64(s.LastSeenMs - s.FirstSeenMs)
	return spanMs / 1000.0 / float64(s.RequestCount-1)
}

// PostToGetRatio returns PostCount/GetCount, or 0 when there have been no
// GET requests yet (avoids a divide-by-zero blowup on POST-only bursts).
func (s *SessionState) PostToGetRatio() float64 {
	if s.GetCount == 0 {
		return 0
	}
	return float64(s.PostCount) / float64(s.GetCount)
}

// UniquePathCount returns the number of distinct paths seen this session.
func (s *SessionState) UniquePathCount() int {
	return len(s.UniquePaths)
}

// Save writes the SessionState: scalar fields, unique-paths set, bounded
// history (length-prefixed).
func (s *SessionState) Save(w io.Writer) error {
	fields := []int64{s.RequestCount, s.FirstSeenMs, s.LastSeenMs, s.GetCount, s.PostCount, s.UAChanges, s.ErrorCount, s.FailedLoginCount}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if err := writeLPString(w, s.LastUA); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(s.UniquePaths))); err != nil {
		return err
	}
	for p := range s.UniquePaths {
		if err := writeLPString(w, p); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, int64(s.MaxHistory)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s.History))); err != nil {
		return err
	}
	for _, h := range s.History {
		if err := binary.Write(w, binary.LittleEndian, h.TimestampMs); err != nil {
			return err
		}
		if err := writeLPString(w, h.Path); err != nil {
			return err
		}
		if err := writeLPString(w, h.Method); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int64(h.Status)); err != nil {
			return err
		}
	}
	return nil
}

// LoadSessionState reads the format written by Save.
func LoadSessionState(r io.Reader) (*SessionState, error) {
	s := &SessionState{UniquePaths: make(map[string]struct{})}

	fields := make([]*int64, 8)
	var requestCount, firstSeen, lastSeen, getCount, postCount, uaChanges, errorCount, failedLoginCount int64
	fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7] =
		&requestCount, &firstSeen, &lastSeen, &getCount, &postCount, &uaChanges, &errorCount, &failedLoginCount
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	s.RequestCount, s.FirstSeenMs, s.LastSeenMs = requestCount, firstSeen, lastSeen
	s.GetCount, s.PostCount, s.UAChanges = getCount, postCount, uaChanges
	s.ErrorCount, s.FailedLoginCount = errorCount, failedLoginCount

	var err error
	if s.LastUA, err = readLPString(r); err != nil {
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
		s.UniquePaths[p] = struct{}{}
	}

	var maxHistory int64
	if err := binary.Read(r, binary.LittleEndian, &maxHistory); err != nil {
		return nil, err
	}
	s.MaxHistory = int(maxHistory)

	var historyCount uint64
	if err := binary.Read(r, binary.LittleEndian, &historyCount); err != nil {
		return nil, err
	}
	s.History = make([]RequestSummary, 0, historyCount)
	for i := uint64(0); i < historyCount; i++ {
		var h RequestSummary
		if err := binary.Read(r, binary.LittleEndian, &h.TimestampMs); err != nil {
			return nil, err
		}
		if h.Path, err = readLPString(r); err != nil {
			return nil, err
		}
		if h.Method, err = readLPString(r); err != nil {
			return nil, err
		}
		var status int64
		if err := binary.Read(r, binary.LittleEndian, &status); err != nil {
			return nil, err
		}
		h.Status = int(status)
		s.History = append(s.History, h)
	}
	return s, nil
}
