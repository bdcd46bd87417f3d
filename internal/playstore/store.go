// Package playstore is the durable, atomic on-disk repository of plays,
// partitioned by lifecycle state. One directory per state; moving a play file
// between directories is the state transition. Every write uses atomic
// replace semantics (temp file, fsync, rename) so a crash never leaves a
// half-written or duplicated record.
package playstore

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Zaroganos/goldflipper/internal/models"
)

const (
	playFileExt   = ".json"
	quarantineDir = "quarantine"
	archiveDir    = "archive"
	fileMode      = 0o644
	dirMode       = 0o755
)

// Interface is the contract between runners/executor and play persistence.
// Implementations must be safe for concurrent use: reads hand out snapshots,
// writes serialize on a per-play advisory lock.
type Interface interface {
	List(state models.PlayState) ([]string, error)
	ListByStrategy(state models.PlayState, strategyTag string) ([]*models.Play, error)
	Load(playID string) (*models.Play, error)
	Save(play *models.Play) error
	Transition(play *models.Play, to models.PlayState, condition string) error
	Archive(playID string) error
	Quarantine(playID string, reason error) error
	Counts() map[models.PlayState]int
	QuarantineCount() int
}

// FileStore implements Interface on a directory tree.
type FileStore struct {
	root   string
	logger *log.Logger

	mu    sync.RWMutex      // guards index
	index map[string]models.PlayState

	locks sync.Map // play id -> *sync.Mutex
}

// Compile-time interface check.
var _ Interface = (*FileStore)(nil)

// New opens (and if needed creates) the store rooted at dir. Existing play
// files are indexed; malformed records are quarantined and reported, never
// silently dropped.
func New(dir string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[STORE] ", log.LstdFlags)
	}
	s := &FileStore{
		root:   dir,
		logger: logger,
		index:  make(map[string]models.PlayState),
	}
	for _, state := range models.AllStates {
		if err := os.MkdirAll(s.stateDir(state), dirMode); err != nil {
			return nil, fmt.Errorf("creating state dir: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, quarantineDir), dirMode); err != nil {
		return nil, fmt.Errorf("creating quarantine dir: %w", err)
	}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) stateDir(state models.PlayState) string {
	return filepath.Join(s.root, string(state))
}

func (s *FileStore) playPath(state models.PlayState, playID string) string {
	return filepath.Join(s.stateDir(state), playID+playFileExt)
}

// scan builds the id -> state index from the directory tree, completes any
// transition a crash interrupted, and quarantines anything that does not load
// cleanly.
func (s *FileStore) scan() error {
	for _, state := range models.AllStates {
		entries, err := os.ReadDir(s.stateDir(state))
		if err != nil {
			return fmt.Errorf("scanning %s: %w", state, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), playFileExt) {
				continue
			}
			id := strings.TrimSuffix(entry.Name(), playFileExt)
			if prev, dup := s.index[id]; dup {
				if prev == state {
					// Indexed here already by an interrupted-move recovery.
					continue
				}
				// P2 violation: the same id in two directories. Keep the
				// first, quarantine the second.
				s.logger.Printf("Duplicate play %s in %s and %s, quarantining the %s copy",
					id, prev, state, state)
				if err := s.quarantinePath(s.playPath(state, id), id); err != nil {
					return err
				}
				continue
			}
			play, err := s.parse(state, id)
			if err != nil {
				s.logger.Printf("Quarantining malformed play %s: %v", id, err)
				if qErr := s.quarantinePath(s.playPath(state, id), id); qErr != nil {
					return qErr
				}
				continue
			}
			if play.State != state && play.State.Valid() && play.Validate() == nil {
				// Transition's record write is its commit point; a crash
				// before the directory move leaves the committed record in
				// the old directory. Finish the move.
				newPath := s.playPath(play.State, id)
				if _, statErr := os.Stat(newPath); statErr == nil {
					s.logger.Printf("Duplicate play %s in %s and %s, quarantining the %s copy",
						id, play.State, state, state)
					if err := s.quarantinePath(s.playPath(state, id), id); err != nil {
						return err
					}
					continue
				}
				s.logger.Printf("Play %s: completing interrupted %s -> %s move",
					id, state, play.State)
				if err := os.Rename(s.playPath(state, id), newPath); err != nil {
					return fmt.Errorf("completing move for %s: %w", id, err)
				}
				s.index[id] = play.State
				continue
			}
			play.State = state
			if err := play.Validate(); err != nil {
				s.logger.Printf("Quarantining malformed play %s: %v", id, err)
				if qErr := s.quarantinePath(s.playPath(state, id), id); qErr != nil {
					return qErr
				}
				continue
			}
			s.index[id] = state
		}
	}
	return nil
}

func (s *FileStore) lockFor(playID string) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(playID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// List returns the sorted ids of plays in the given state.
func (s *FileStore) List(state models.PlayState) ([]string, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("list: unknown state %q", state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, st := range s.index {
		if st == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListByStrategy loads snapshots of every play in the given state owned by
// the given strategy tag. Plays failing integrity checks are quarantined and
// skipped; the cycle continues.
func (s *FileStore) ListByStrategy(state models.PlayState, strategyTag string) ([]*models.Play, error) {
	ids, err := s.List(state)
	if err != nil {
		return nil, err
	}
	var plays []*models.Play
	for _, id := range ids {
		play, err := s.Load(id)
		if err != nil {
			s.logger.Printf("Skipping play %s: %v", id, err)
			continue
		}
		if play.StrategyTag == strategyTag {
			plays = append(plays, play)
		}
	}
	return plays, nil
}

// Load returns a snapshot of the play. The on-disk record is re-validated;
// failures quarantine the record and return an IntegrityError.
func (s *FileStore) Load(playID string) (*models.Play, error) {
	s.mu.RLock()
	state, ok := s.index[playID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %s: %w", playID, ErrNotFound)
	}
	play, err := s.loadFrom(state, playID)
	if err != nil {
		if qErr := s.Quarantine(playID, err); qErr != nil {
			s.logger.Printf("Failed to quarantine %s: %v", playID, qErr)
		}
		return nil, err
	}
	return play, nil
}

// parse reads and decodes the record without reconciling its state field
// against the directory.
func (s *FileStore) parse(state models.PlayState, playID string) (*models.Play, error) {
	path := s.playPath(state, playID)
	data, err := os.ReadFile(path) // #nosec G304 -- path is store-derived
	if err != nil {
		return nil, fmt.Errorf("reading play %s: %w", playID, err)
	}
	var play models.Play
	if err := json.Unmarshal(data, &play); err != nil {
		return nil, &IntegrityError{PlayID: playID, Path: path, Err: err}
	}
	play.ApplyDefaults()
	return &play, nil
}

func (s *FileStore) loadFrom(state models.PlayState, playID string) (*models.Play, error) {
	play, err := s.parse(state, playID)
	if err != nil {
		return nil, err
	}
	// After scan the directory is canonical; a mismatched state field on a
	// runtime load means a concurrent transition is in flight.
	if play.State != state {
		s.logger.Printf("Play %s state field %q disagrees with directory %q, directory wins",
			playID, play.State, state)
		play.State = state
	}
	if err := play.Validate(); err != nil {
		return nil, &IntegrityError{PlayID: playID, Path: s.playPath(state, playID), Err: err}
	}
	return play, nil
}

// Save persists the play into its current state directory with atomic
// replace semantics.
func (s *FileStore) Save(play *models.Play) error {
	if play == nil || play.ID == "" {
		return fmt.Errorf("save: play has no id")
	}
	if err := play.Validate(); err != nil {
		return fmt.Errorf("save %s: %w", play.ID, err)
	}

	lock := s.lockFor(play.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	state, known := s.index[play.ID]
	s.mu.RUnlock()
	if known && state != play.State {
		return fmt.Errorf("save %s: state %q disagrees with stored state %q, use Transition",
			play.ID, play.State, state)
	}

	if err := s.writeAtomic(s.playPath(play.State, play.ID), play); err != nil {
		return err
	}

	s.mu.Lock()
	s.index[play.ID] = play.State
	s.mu.Unlock()
	return nil
}

// Transition validates and performs a lifecycle move: the updated record is
// first written atomically in the old directory, then the file is renamed
// into the new state directory. The record write commits the transition; a
// crash before the rename is completed by the next scan.
func (s *FileStore) Transition(play *models.Play, to models.PlayState, condition string) error {
	if play == nil || play.ID == "" {
		return fmt.Errorf("transition: play has no id")
	}

	lock := s.lockFor(play.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	from, known := s.index[play.ID]
	s.mu.RUnlock()
	if !known {
		return fmt.Errorf("transition %s: %w", play.ID, ErrNotFound)
	}
	if play.State != from {
		return fmt.Errorf("transition %s: snapshot state %q is stale (stored %q)",
			play.ID, play.State, from)
	}

	if err := play.Transition(to, condition); err != nil {
		return err
	}
	if err := play.Validate(); err != nil {
		// Restore the snapshot state so the caller's copy stays truthful.
		play.State = from
		return fmt.Errorf("transition %s: %w", play.ID, err)
	}

	oldPath := s.playPath(from, play.ID)
	newPath := s.playPath(to, play.ID)

	if err := s.writeAtomic(oldPath, play); err != nil {
		play.State = from
		return err
	}
	if oldPath != newPath {
		if err := os.Rename(oldPath, newPath); err != nil {
			play.State = from
			return fmt.Errorf("transition %s: moving %s -> %s: %w", play.ID, from, to, err)
		}
	}

	s.mu.Lock()
	s.index[play.ID] = to
	s.mu.Unlock()

	s.logger.Printf("Play %s: %s -> %s (%s)", play.ID, from, to, condition)
	return nil
}

// Archive moves a terminal play out of its state directory into the archive
// tree, keeping the state subdirectory structure.
func (s *FileStore) Archive(playID string) error {
	lock := s.lockFor(playID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	state, known := s.index[playID]
	s.mu.RUnlock()
	if !known {
		return fmt.Errorf("archive %s: %w", playID, ErrNotFound)
	}
	if !state.Terminal() {
		return fmt.Errorf("archive %s: state %s is not terminal", playID, state)
	}

	dest := filepath.Join(s.root, archiveDir, string(state))
	if err := os.MkdirAll(dest, dirMode); err != nil {
		return fmt.Errorf("archive %s: %w", playID, err)
	}
	if err := os.Rename(s.playPath(state, playID), filepath.Join(dest, playID+playFileExt)); err != nil {
		return fmt.Errorf("archive %s: %w", playID, err)
	}

	s.mu.Lock()
	delete(s.index, playID)
	s.mu.Unlock()
	return nil
}

// Quarantine moves a malformed record aside with a sibling .reason file so
// nothing ever acts on it again.
func (s *FileStore) Quarantine(playID string, reason error) error {
	s.mu.RLock()
	state, known := s.index[playID]
	s.mu.RUnlock()
	if !known {
		return fmt.Errorf("quarantine %s: %w", playID, ErrNotFound)
	}
	if err := s.quarantinePath(s.playPath(state, playID), playID); err != nil {
		return err
	}
	reasonPath := filepath.Join(s.root, quarantineDir, playID+".reason")
	msg := fmt.Sprintf("%s %v\n", time.Now().UTC().Format(time.RFC3339), reason)
	if err := os.WriteFile(reasonPath, []byte(msg), fileMode); err != nil {
		s.logger.Printf("Failed to write quarantine reason for %s: %v", playID, err)
	}

	s.mu.Lock()
	delete(s.index, playID)
	s.mu.Unlock()
	return nil
}

func (s *FileStore) quarantinePath(path, playID string) error {
	dest := filepath.Join(s.root, quarantineDir, playID+playFileExt)
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("quarantining %s: %w", playID, err)
	}
	return nil
}

// Counts returns the number of plays in each lifecycle state.
func (s *FileStore) Counts() map[models.PlayState]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.PlayState]int, len(models.AllStates))
	for _, state := range models.AllStates {
		counts[state] = 0
	}
	for _, state := range s.index {
		counts[state]++
	}
	return counts
}

// QuarantineCount returns the number of quarantined play records.
func (s *FileStore) QuarantineCount() int {
	entries, err := os.ReadDir(filepath.Join(s.root, quarantineDir))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), playFileExt) {
			n++
		}
	}
	return n
}

// writeAtomic serializes the play to a sibling temp file, fsyncs, and renames
// it over the destination.
func (s *FileStore) writeAtomic(path string, play *models.Play) error {
	data, err := json.MarshalIndent(play, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling play %s: %w", play.ID, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+play.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", play.ID, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// Best effort on failure paths; on success the rename removed it.
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing play %s: %w", play.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing play %s: %w", play.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp for %s: %w", play.ID, err)
	}
	if err := os.Chmod(tmpPath, fileMode); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", play.ID, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing play %s: %w", play.ID, err)
	}
	return nil
}
