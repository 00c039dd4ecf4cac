package config

import (
	"errors"
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory, which otherwise is ~/.shopassist.
const HomeEnv = "SHOPASSIST_HOME"

// Paths are the files and directories shopassist reads and writes.
type Paths struct {
	Base   string
	Config string
	Data   string
	Logs   string
}

func ResolvePaths() (Paths, error) {
	base, ok := os.LookupEnv(HomeEnv)
	if !ok || base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, errors.Join(errors.New("locating home directory; set "+HomeEnv), err)
		}
		base = filepath.Join(home, ".shopassist")
	}
	return PathsUnder(base), nil
}

// PathsUnder lays the standard files out below base.
func PathsUnder(base string) Paths {
	return Paths{
		Base:   base,
		Config: filepath.Join(base, "config.yaml"),
		Data:   filepath.Join(base, "data"),
		Logs:   filepath.Join(base, "logs"),
	}
}

// SessionDB is where the sqlite session store lives unless
// session.path says otherwise.
func (p Paths) SessionDB() string {
	return filepath.Join(p.Data, "sessions.db")
}

// EnsureDirs creates the data and log directories, owner-only.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
