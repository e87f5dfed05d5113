// Package lock guards a workspace against concurrent publishers across
// processes with an exclusive lock file under the workspace data directory.
package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/cruskit/afterglow-manager/publish/errors"
)

// Path is the workspace-relative location of the lock file.
const Path = ".data/publish.lock"

// Owner identifies the holder of a lock.
type Owner struct {
	ID        string `json:"id"`
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func (o Owner) String() string {
	return fmt.Sprintf("pid=%d created_at=%s host=%s", o.PID, o.CreatedAt, o.Hostname)
}

// Lock is a held workspace lock.
type Lock struct {
	fs    billy.Filesystem
	owner Owner
}

// Acquire creates the lock file. It fails with ErrWorkspaceLocked when the
// file already exists.
func Acquire(fs billy.Filesystem) (*Lock, error) {
	if err := fs.MkdirAll(".data", 0o755); err != nil {
		return nil, errors.NewPathError("lock", Path, err)
	}

	f, err := fs.OpenFile(Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if owner, readErr := ReadOwner(fs); readErr == nil && owner.PID > 0 {
				return nil, errors.NewPathError("lock", Path, errors.ErrWorkspaceLocked).
					WithMessage("held by " + owner.String())
			}
			return nil, errors.NewPathError("lock", Path, errors.ErrWorkspaceLocked)
		}
		return nil, errors.NewPathError("lock", Path, err)
	}

	owner := Owner{
		ID:        uuid.NewString(),
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	data, err := json.Marshal(owner)
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = fs.Remove(Path)
		return nil, errors.NewPathError("lock", Path, fmt.Errorf("write lock owner: %w", err))
	}

	return &Lock{fs: fs, owner: owner}, nil
}

// Owner returns the identity recorded when the lock was acquired.
func (l *Lock) Owner() Owner {
	return l.owner
}

// Release removes the lock file if it is still owned by l. A lock that was
// force-unlocked and re-acquired by someone else is left alone.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	current, err := ReadOwner(l.fs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewPathError("unlock", Path, err)
	}
	if current.ID != l.owner.ID {
		return nil
	}
	if err := l.fs.Remove(Path); err != nil && !os.IsNotExist(err) {
		return errors.NewPathError("unlock", Path, err)
	}
	return nil
}

// ReadOwner returns the recorded holder of the lock.
func ReadOwner(fs billy.Filesystem) (Owner, error) {
	data, err := util.ReadFile(fs, Path)
	if err != nil {
		return Owner{}, err
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return Owner{}, fmt.Errorf("parse lock owner: %w", err)
	}
	return owner, nil
}

// ForceUnlock removes the lock file regardless of owner. It reports whether
// a lock was present.
func ForceUnlock(fs billy.Filesystem) (bool, error) {
	if err := fs.Remove(Path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.NewPathError("unlock", Path, err)
	}
	return true, nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
