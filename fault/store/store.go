package store

import (
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"
	"github.com/textileio/fleetwatch/fault"
)

var (
	dsKey = datastore.NewKey("faults")

	log = logging.Logger("fault-store")
)

// Store persists the active fault set into a datastore.
type Store struct {
	ds datastore.Datastore
}

// New returns a new store for the active fault set.
func New(ds datastore.Datastore) *Store {
	return &Store{
		ds: ds,
	}
}

// Save overwrites the persisted fault set with faults.
func (s *Store) Save(faults []fault.Fault) error {
	if faults == nil {
		faults = []fault.Fault{}
	}
	buf, err := json.Marshal(faults)
	if err != nil {
		return fmt.Errorf("marshaling faults: %s", err)
	}
	if err = s.ds.Put(dsKey, buf); err != nil {
		return fmt.Errorf("saving to datastore: %s", err)
	}
	log.Debugf("saved %d faults", len(faults))
	return nil
}

// Get returns the last saved fault set. If nothing was persisted, it
// returns an empty set.
func (s *Store) Get() ([]fault.Fault, error) {
	buf, err := s.ds.Get(dsKey)
	if err != nil {
		if err == datastore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var faults []fault.Fault
	if err = json.Unmarshal(buf, &faults); err != nil {
		return nil, fmt.Errorf("unmarshaling faults: %s", err)
	}
	return faults, nil
}

// Clear removes the persisted fault set.
func (s *Store) Clear() error {
	if err := s.ds.Delete(dsKey); err != nil && err != datastore.ErrNotFound {
		return fmt.Errorf("deleting from datastore: %s", err)
	}
	return nil
}
