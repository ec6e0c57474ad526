package persist

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/matheus3301/wppdash/internal/store"
)

// File names inside the data directory and every backup snapshot.
const (
	ContactsFile = "saved_contacts.json"
	ChatsFile    = "saved_chats.json"
	MessagesFile = "saved_messages.json"
	ConfigFile   = "app_config.json"
)

func fileFor(ds store.Dataset) string {
	switch ds {
	case store.Contacts:
		return ContactsFile
	case store.Chats:
		return ChatsFile
	case store.Messages:
		return MessagesFile
	default:
		return ConfigFile
	}
}

// AppConfig is the content of app_config.json.
type AppConfig struct {
	LastSaved     time.Time  `json:"lastSaved"`
	LastConnected *time.Time `json:"lastConnected"`
	TotalChats    int        `json:"totalChats"`
	TotalContacts int        `json:"totalContacts"`
	Version       string     `json:"version"`
}

// writeJSON marshals v and atomically replaces path with it.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON decodes path into v. A missing file is reported with
// os.ErrNotExist so callers can tell it apart from corruption.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// boundMessages keeps the newest max entries of each chat, dropping
// entries without id or body.
func boundMessages(all map[string][]store.Message, max int) map[string][]store.Message {
	out := make(map[string][]store.Message, len(all))
	for chatID, msgs := range all {
		kept := make([]store.Message, 0, len(msgs))
		for _, m := range msgs {
			if m.ID == "" || m.Body == "" {
				continue
			}
			kept = append(kept, m)
		}
		if max > 0 && len(kept) > max {
			kept = kept[len(kept)-max:]
		}
		out[chatID] = kept
	}
	return out
}

func validChats(all []store.Chat) []store.Chat {
	out := make([]store.Chat, 0, len(all))
	for _, c := range all {
		if c.ID == "" || c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
