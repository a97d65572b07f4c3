package boltstore

import (
	"fmt"

	"github.com/crystal-mush/rpevents/pkg/gamedb"
	bbolt "go.etcd.io/bbolt"
)

// SaveSchedulerState persists the event scheduler's bookkeeping.
func (s *Store) SaveSchedulerState(st *gamedb.SchedulerState) error {
	if err := put(s, bucketScheduler, keyEventsMgr, st); err != nil {
		return fmt.Errorf("boltstore: save scheduler state: %w", err)
	}
	return nil
}

// LoadSchedulerState returns the saved scheduler state. A file that never
// saved one yields an empty state with its maps ready for use.
func (s *Store) LoadSchedulerState() (*gamedb.SchedulerState, error) {
	st := &gamedb.SchedulerState{}
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketScheduler).Get(keyEventsMgr)
		if data == nil {
			return nil
		}
		saved, err := decode[gamedb.SchedulerState](data)
		if err == nil {
			st = saved
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load scheduler state: %w", err)
	}
	if st.IdleEvents == nil {
		st.IdleEvents = map[int64]int{}
	}
	if st.EventLogs == nil {
		st.EventLogs = map[int64]string{}
	}
	if st.GMLogs == nil {
		st.GMLogs = map[int64]string{}
	}
	return st, nil
}

// PutScript persists the state of one script.
func (s *Store) PutScript(st *gamedb.ScriptState) error {
	if err := put(s, bucketScripts, scriptKey(st.Object, st.Key), st); err != nil {
		return fmt.Errorf("boltstore: put script %s on #%d: %w", st.Key, st.Object, err)
	}
	return nil
}

// DeleteScript removes a script's saved state.
func (s *Store) DeleteScript(obj gamedb.DBRef, key string) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketScripts).Delete(scriptKey(obj, key))
	})
}

// LoadScripts reads every saved script state in key order.
func (s *Store) LoadScripts() ([]gamedb.ScriptState, error) {
	var out []gamedb.ScriptState
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return each(tx.Bucket(bucketScripts), func(_ []byte, st *gamedb.ScriptState) {
			out = append(out, *st)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load scripts: %w", err)
	}
	return out, nil
}
