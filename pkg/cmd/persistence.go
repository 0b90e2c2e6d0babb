package cmd

import (
	"fmt"

	"github.com/loomctl/loom/pkg/persistence"
	"github.com/loomctl/loom/pkg/persistence/file"
	"github.com/loomctl/loom/pkg/persistence/memory"
)

// NewPersistence builds the storage backend named by the URL scheme.
// Unknown schemes fall back to file storage rooted at the URL path.
func NewPersistence(databaseURL string) persistence.Persistence {
	scheme, err := persistence.ParseScheme(databaseURL)
	if err != nil {
		panic(fmt.Errorf("invalid database url: %w", err))
	}

	switch scheme {
	case "memory":
		return memory.NewPersistence()
	default:
		return file.NewPersistence(databaseURL)
	}
}
