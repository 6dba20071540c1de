package coins

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// interaction is one command/response pair in the history log
type interaction struct {
	Message  string `json:"message"`
	Response string `json:"response"`
}

// HistoryLog appends command interactions to a JSON-lines file so operators
// can audit what the bot was asked and what it answered
type HistoryLog struct {
	path string
	mu   sync.Mutex
}

// NewHistoryLog creates a history log writing to path. An empty path disables
// logging
func NewHistoryLog(path string) (h *HistoryLog, err error) {
	if path != "" {
		path, err = homedir.Expand(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to expand history log path")
		}
	}

	return &HistoryLog{path: path}, nil
}

// Append records one interaction. A disabled log is a no-op
func (h *HistoryLog) Append(message string, response string) (err error) {
	if h.path == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open history log [%s]", h.path)
	}
	defer f.Close()

	line, err := json.Marshal(interaction{Message: message, Response: response})
	if err != nil {
		return errors.Wrap(err, "failed to encode history entry")
	}

	if _, err = f.Write(append(line, '\n')); err != nil {
		return errors.Wrapf(err, "failed to append to history log [%s]", h.path)
	}

	return nil
}
