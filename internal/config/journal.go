package config

import (
	"fmt"

	"github.com/roach88/causalverse/internal/journal"
)

// OpenJournal opens the configured journal backend.
func (c JournalConfig) OpenJournal() (journal.Journal, error) {
	switch c.Backend {
	case "sqlite":
		j, err := journal.OpenSQLite(c.Path)
		if err != nil {
			return nil, err
		}
		return j, nil
	case "badger", "memory":
		open := func() (*journal.Badger, error) { return journal.OpenBadger(c.Path) }
		if c.Backend == "memory" {
			open = journal.OpenBadgerInMemory
		}
		j, err := open()
		if err != nil {
			return nil, err
		}
		return j, nil
	}
	return nil, fmt.Errorf("unknown journal backend %q", c.Backend)
}
