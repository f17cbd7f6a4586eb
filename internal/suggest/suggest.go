// Package suggest matches live flex readings against letters a user has
// recorded before, using nearest-neighbour Euclidean distance.
package suggest

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"
)

// DefaultThreshold is the lowest similarity reported as a suggestion
const DefaultThreshold = 0.15

// Snapshot is one recorded letter
type Snapshot struct {
	Letter    string    `yaml:"letter" json:"letter"`
	Values    []float64 `yaml:"values" json:"values"`
	Timestamp time.Time `yaml:"timestamp,omitempty" json:"timestamp,omitempty"`
}

// Match is the best snapshot for a reading
type Match struct {
	Letter     string  `json:"letter"`
	Similarity float64 `json:"similarity"`
}

// Percent is the similarity rounded to whole percent
func (m Match) Percent() int {
	return int(m.Similarity*100 + 0.5)
}

type history struct {
	mu        sync.RWMutex
	snapshots []Snapshot
}

// Store keeps snapshots per user in memory
type Store struct {
	users     *hashmap.Map[string, *history]
	threshold float64
}

type Option func(*Store)

func WithThreshold(t float64) Option {
	return func(s *Store) { s.threshold = t }
}

func New(opts ...Option) *Store {
	s := &Store{
		users:     hashmap.New[string, *history](),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) historyOf(user string) *history {
	h, _ := s.users.GetOrInsert(user, &history{})
	return h
}

// Add records a snapshot for user
func (s *Store) Add(user string, snap Snapshot) error {
	snap.Letter = strings.TrimSpace(snap.Letter)
	if snap.Letter == "" {
		return fmt.Errorf("snapshot has no letter")
	}
	if len(snap.Values) == 0 {
		return fmt.Errorf("snapshot for %q has no values", snap.Letter)
	}

	h := s.historyOf(user)
	h.mu.Lock()
	h.snapshots = append(h.snapshots, snap)
	h.mu.Unlock()
	return nil
}

// Snapshots returns a copy of user's history in insertion order
func (s *Store) Snapshots(user string) []Snapshot {
	h, ok := s.users.Get(user)
	if !ok {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Snapshot(nil), h.snapshots...)
}

// Forget drops every snapshot of user
func (s *Store) Forget(user string) {
	s.users.Del(user)
}

// Suggest returns the closest recorded letter when it reaches the threshold
func (s *Store) Suggest(user string, values []float64) (Match, bool) {
	h, ok := s.users.Get(user)
	if !ok {
		return Match{}, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var best Match
	for _, snap := range h.snapshots {
		if sim := Similarity(values, snap.Values); sim > best.Similarity {
			best = Match{Letter: snap.Letter, Similarity: sim}
		}
	}
	if best.Letter == "" || best.Similarity < s.threshold {
		return Match{}, false
	}
	return best, true
}

// Similarity is 1/(1+d) for Euclidean distance d. Readings of different
// length have similarity 0.
func Similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return 1 / (1 + floats.Distance(a, b, 2))
}

// Load reads a YAML document of user name to snapshot list
//
//	alice:
//	  - letter: A
//	    values: [10, 80, 85, 82, 79]
func (s *Store) Load(r io.Reader) (int, error) {
	var doc map[string][]Snapshot
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to parse snapshots: %w", err)
	}

	n := 0
	for user, snaps := range doc {
		for i, snap := range snaps {
			if err := s.Add(user, snap); err != nil {
				return n, fmt.Errorf("user %q snapshot %d: %w", user, i, err)
			}
			n++
		}
	}
	return n, nil
}
