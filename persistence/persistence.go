// Package persistence implements C9: write-through JSON snapshots of
// session descriptors and breakpoint tables under DATA_DIR, atomic
// writes, and startup recovery scanning, per spec.md 4.8.
//
// Grounded on store/store.go's Txn (a flock'd directory plus one JSON
// file per entity, written via Config.AtomicWriteFile) and
// commands/build.go's direct use of moby/sys/atomicwriter. Here the
// flock guards the whole sessions directory rather than a single
// instance file, since recovery scans the directory as a unit.
package persistence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/moby/sys/atomicwriter"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/session"
)

const sessionsDir = "sessions"

// Snapshot is the on-disk shape: the descriptor minus its volatile stop
// context, plus the breakpoint table and the launch/attach intent needed
// to offer a re-launch/re-attach after recovery.
type Snapshot struct {
	Descriptor  session.Descriptor            `json:"descriptor"`
	Breakpoints map[string][]session.Breakpoint `json:"breakpoints"`
	Launch      any                            `json:"launch,omitempty"`
	Attach      any                            `json:"attach,omitempty"`
}

// Store persists session snapshots under dataDir/sessions.
type Store struct {
	dataDir string
	lock    *flock.Flock
}

// Open ensures dataDir/sessions exists and returns a Store over it.
func Open(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, sessionsDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, brokererr.New(brokererr.KindIOError, err, "failed to create %s", dir)
	}
	return &Store{
		dataDir: dataDir,
		lock:    flock.New(filepath.Join(dir, ".lock")),
	}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dataDir, sessionsDir, id+".json")
}

// Snapshot implements session.Persister: write dataDir/sessions/<id>.json
// via write-temp/fsync/rename.
func (s *Store) Snapshot(desc session.Descriptor, breakpoints map[string][]session.Breakpoint, launch, attach any) error {
	// Only user intent (line, condition, hit condition) is written; the
	// adapter-assigned id and the verified flag are left zero.
	var intent map[string][]session.Breakpoint
	if breakpoints != nil {
		intent = make(map[string][]session.Breakpoint, len(breakpoints))
		for path, bps := range breakpoints {
			kept := make([]session.Breakpoint, len(bps))
			for i, bp := range bps {
				kept[i] = session.Breakpoint{Line: bp.Line, Condition: bp.Condition, HitCond: bp.HitCond}
			}
			intent[path] = kept
		}
	}
	snap := Snapshot{Descriptor: desc, Breakpoints: intent, Launch: launch, Attach: attach}
	dt, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return brokererr.New(brokererr.KindIOError, err, "failed to encode session snapshot")
	}

	if err := s.lock.Lock(); err != nil {
		return brokererr.New(brokererr.KindIOError, err, "failed to acquire sessions directory lock")
	}
	defer s.lock.Unlock()

	if err := atomicwriter.WriteFile(s.path(desc.ID), dt, 0o600); err != nil {
		return brokererr.New(brokererr.KindIOError, err, "failed to write session snapshot for %s", desc.ID)
	}
	return nil
}

// Remove deletes a session's persisted snapshot, if any.
func (s *Store) Remove(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return brokererr.New(brokererr.KindIOError, err, "failed to remove snapshot for %s", id)
	}
	return nil
}

// ListRecoverable scans dataDir/sessions and returns every well-formed
// snapshot, quarantining (renaming with a .corrupt suffix) any file that
// fails to parse.
func (s *Store) ListRecoverable() ([]Snapshot, error) {
	dir := filepath.Join(s.dataDir, sessionsDir)

	if err := s.lock.Lock(); err != nil {
		return nil, brokererr.New(brokererr.KindIOError, err, "failed to acquire sessions directory lock")
	}
	defer s.lock.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, brokererr.New(brokererr.KindIOError, err, "failed to list %s", dir)
	}

	var out []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		full := filepath.Join(dir, name)
		dt, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal(dt, &snap); err != nil {
			s.quarantine(full)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Store) quarantine(path string) {
	_ = os.Rename(path, path+".corrupt."+time.Now().UTC().Format("20060102T150405"))
}

// RecoverSession re-instantiates a session in state CREATED from a
// snapshot, with the stored breakpoints replayed but no live adapter
// connection, per spec.md 4.8's "reconstructs intent, not a live wire".
// profile is the adapter.Profile resolved for the snapshot's language,
// so a recovered session can still be launched or attached again.
func RecoverSession(snap Snapshot, store *Store, profile adapter.Profile) *session.Session {
	s := session.New(session.Options{
		ID:          snap.Descriptor.ID,
		Language:    snap.Descriptor.Language,
		ProjectRoot: snap.Descriptor.ProjectRoot,
		Profile:     profile,
		Persister:   store,
	})
	for path, bps := range snap.Breakpoints {
		specs := make([]session.BreakpointSpec, len(bps))
		for i, bp := range bps {
			specs[i] = session.BreakpointSpec{Line: bp.Line, Condition: bp.Condition, HitCond: bp.HitCond}
		}
		_, _ = s.SetBreakpoints(context.Background(), path, specs)
	}
	return s
}
