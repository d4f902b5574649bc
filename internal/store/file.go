package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// LoadState reads the raffle state from a JSON file. Returns an empty state if the file doesn't exist.
func LoadState(filePath string) (*state, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return newState(), nil
		}
		return nil, errors.Wrap(err, "read state file")
	}
	st := newState()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, errors.Wrapf(err, "decode state file %s", filePath)
	}
	if st.Balances == nil {
		st.Balances = newState().Balances
	}
	if st.Rejecting == nil {
		st.Rejecting = newState().Rejecting
	}
	return st, nil
}

// SaveState writes the raffle state to a JSON file, replacing it atomically.
func SaveState(filePath string, st *state) error {
	st.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode state")
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrap(err, "create state dir")
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.Wrap(err, "write state file")
	}
	return errors.Wrap(os.Rename(tmp, filePath), "replace state file")
}

// lockState takes an advisory flock on filePath+".lock". The returned func
// releases it.
func lockState(filePath string, exclusive bool) (func(), error) {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "create state dir")
		}
	}
	f, err := os.OpenFile(filePath+".lock", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open state lock")
	}
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	for {
		err = unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "lock state file")
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
