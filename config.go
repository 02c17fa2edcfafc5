package mcphub

import (
	"context"

	"github.com/wagiedev/mcphub/internal/config"
)

// LoadConfig reads a YAML server configuration file into a FileStore.
func LoadConfig(path string) (*FileStore, error) {
	return config.NewFileStore(path)
}

// WatchConfig reloads store whenever its file changes and invalidates every
// server whose configuration changed or was removed. It blocks until ctx is
// cancelled.
func (h *Hub) WatchConfig(ctx context.Context, store *FileStore) error {
	w, err := config.NewWatcher(h.log, store, 0, func(ids []string) {
		for _, id := range ids {
			h.InvalidateServer(id)
		}
	})
	if err != nil {
		return err
	}

	return w.Run(ctx)
}
