package lsm

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Store groups multiple LSM trees under one root directory and one shared
// worker Manager, the way a database process shares a single LSM worker
// pool across every collection's tree rather than spinning one pool per
// tree. Grounded on the teacher's lsmkv.Store (store.go).
type Store struct {
	rootDir      string
	treesByName  map[string]*Tree
	logger       logrus.FieldLogger
	metrics      *Metrics
	manager      *Manager
	defaultCfg   Config

	mu sync.Mutex
}

// NewStore creates (or reopens) a root directory that will hold one
// subdirectory per tree, and a Manager sized from defaultCfg shared by
// every tree opened through this Store.
func NewStore(rootDir string, logger logrus.FieldLogger, defaultCfg Config) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create store root")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := defaultCfg.Validate(); err != nil {
		return nil, err
	}

	metrics := noopMetrics()
	manager := NewManager(defaultCfg.WorkersMax, defaultCfg.MergeThreads,
		WithManagerLogger(logger), WithManagerMetrics(metrics))

	return &Store{
		rootDir:     rootDir,
		treesByName: map[string]*Tree{},
		logger:      logger,
		metrics:     metrics,
		manager:     manager,
		defaultCfg:  defaultCfg,
	}, nil
}

func (s *Store) treeDir(name string) string {
	return filepath.Join(s.rootDir, name)
}

// Tree returns a previously opened tree, or nil.
func (s *Store) Tree(name string) *Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.treesByName[name]
}

// CreateOrLoadTree opens name if it isn't already tracked, sharing this
// Store's Manager and metrics unless overridden by opts.
func (s *Store) CreateOrLoadTree(name string, opts ...TreeOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.treesByName[name]; ok {
		return nil
	}

	allOpts := append([]TreeOption{
		WithManager(s.manager),
		WithMetrics(s.metrics),
		WithLogger(s.logger.WithField("tree", name)),
	}, opts...)

	t, err := Open(name, s.treeDir(name), s.defaultCfg, allOpts...)
	if err != nil {
		return errors.Wrapf(err, "open tree %q", name)
	}

	s.treesByName[name] = t
	return nil
}

// Shutdown closes every tracked tree and stops the shared Manager.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, t := range s.treesByName {
		t.ownsManager = false // the Store, not the tree, owns this Manager
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close tree %q", name)
		}
	}

	s.manager.Stop()
	return firstErr
}
