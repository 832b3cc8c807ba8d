package analysis

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/r3dev/sentryd/internal/state"
)

// SaveState writes the engine's three maps to path.tmp, then renames it
// onto path atomically. On any failure the temp file is removed.
func (e *Engine) SaveState(path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("analysis: create temp snapshot: %w", err)
	}

	if err := e.writeSnapshot(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("analysis: write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("analysis: close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("analysis: rename snapshot into place: %w", err)
	}
	return nil
}

func (e *Engine) writeSnapshot(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, e.cfg.StateFileMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, stateFileVersion); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(e.ips))); err != nil {
		return err
	}
	for k, v := range e.ips {
		if err := writeLPString(w, k); err != nil {
			return err
		}
		if err := v.Save(w); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(e.paths))); err != nil {
		return err
	}
	for k, v := range e.paths {
		if err := writeLPString(w, k); err != nil {
			return err
		}
		if err := v.Save(w); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(e.sessions))); err != nil {
		return err
	}
	for k, v := range e.sessions {
		if err := writeLPString(w, k); err != nil {
			return err
		}
		if err := v.Save(w); err != nil {
			return err
		}
	}
	return nil
}

// LoadState replaces the engine's in-memory maps with the contents of
// path. A magic or version mismatch is a hard refusal: the engine is left
// with empty maps rather than partially loaded.
func (e *Engine) LoadState(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("analysis: read snapshot: %w", err)
	}
	r := bytes.NewReader(raw)

	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("analysis: read magic: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("analysis: read version: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if magic != e.cfg.StateFileMagic || version != stateFileVersion {
		e.ips = make(map[string]*state.IPState)
		e.paths = make(map[string]*state.PathState)
		e.sessions = make(map[string]*state.SessionState)
		return fmt.Errorf("analysis: snapshot magic/version mismatch (got %#x/%d, want %#x/%d)", magic, version, e.cfg.StateFileMagic, stateFileVersion)
	}

	ips := make(map[string]*state.IPState)
	var ipCount uint64
	if err := binary.Read(r, binary.LittleEndian, &ipCount); err != nil {
		return e.failLoad(err)
	}
	for i := uint64(0); i < ipCount; i++ {
		k, err := readLPString(r)
		if err != nil {
			return e.failLoad(err)
		}
		v, err := state.LoadIPState(r)
		if err != nil {
			return e.failLoad(err)
		}
		ips[k] = v
	}

	paths := make(map[string]*state.PathState)
	var pathCount uint64
	if err := binary.Read(r, binary.LittleEndian, &pathCount); err != nil {
		return e.failLoad(err)
	}
	for i := uint64(0); i < pathCount; i++ {
		k, err := readLPString(r)
		if err != nil {
			return e.failLoad(err)
		}
		v, err := state.LoadPathState(r)
		if err != nil {
			return e.failLoad(err)
		}
		paths[k] = v
	}

	sessions := make(map[string]*state.SessionState)
	var sessionCount uint64
	if err := binary.Read(r, binary.LittleEndian, &sessionCount); err != nil {
		return e.failLoad(err)
	}
	for i := uint64(0); i < sessionCount; i++ {
		k, err := readLPString(r)
		if err != nil {
			return e.failLoad(err)
		}
		v, err := state.LoadSessionState(r)
		if err != nil {
			return e.failLoad(err)
		}
		sessions[k] = v
	}

	e.ips, e.paths, e.sessions = ips, paths, sessions
	return nil
}

// failLoad resets the engine to empty maps on any I/O error mid-load, per
// the error taxonomy: state-file I/O failures start the engine empty
// rather than leave it partially populated.
func (e *Engine) failLoad(cause error) error {
	e.ips = make(map[string]*state.IPState)
	e.paths = make(map[string]*state.PathState)
	e.sessions = make(map[string]*state.SessionState)
	return fmt.Errorf("analysis: load snapshot: %w", cause)
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
