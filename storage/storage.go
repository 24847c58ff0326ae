// Package storage persists user configs and notification state as JSON
// blobs in a Cloud Storage bucket, with a local-filesystem fallback for
// development.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"campsite-notifier/pkg/notifier"
)

const (
	// Object layout carried over from the original deployment: one config
	// blob per Telegram user, state kept in a sibling prefix.
	userPrefix  = "users/telegram_"
	statePrefix = "state/telegram_"

	maxUserIDLen = 20
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// IsNotFound checks whether an error means the object was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store handles config and state persistence.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a storage handler. When localPath is non-empty the bucket
// client is ignored and blobs live under that directory.
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// validUserID accepts Telegram chat IDs only: plain digit strings. The
// ID becomes part of an object key, so nothing else may pass.
func validUserID(userID string) bool {
	if userID == "" || len(userID) > maxUserIDLen {
		return false
	}
	for _, c := range userID {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func userKey(userID string) string {
	if !validUserID(userID) {
		return ""
	}
	return userPrefix + userID + ".json"
}

func stateKey(userID string) string {
	if !validUserID(userID) {
		return ""
	}
	return statePrefix + userID + ".json"
}

// LoadUser loads one user's config. Returns ErrNotFound when the user has
// no stored config.
func (s *Store) LoadUser(ctx context.Context, userID string) (*notifier.UserConfig, error) {
	key := userKey(userID)
	if key == "" {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}

	data, err := s.readObject(ctx, key)
	if err != nil {
		return nil, err
	}

	var cfg notifier.UserConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal user config: %w", err)
	}
	if cfg.UserID == "" {
		cfg.UserID = userID
	}
	return &cfg, nil
}

// SaveUser writes a user's config. The core never calls this during a
// monitoring pass; it exists for the command front end.
func (s *Store) SaveUser(ctx context.Context, cfg *notifier.UserConfig) error {
	key := userKey(cfg.UserID)
	if key == "" {
		return fmt.Errorf("invalid user id %q", cfg.UserID)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal user config: %w", err)
	}

	if err := s.writeObject(ctx, key, data); err != nil {
		return err
	}
	s.logger.Info("User config saved", "user_id", cfg.UserID, "searches", len(cfg.Searches))
	return nil
}

// ListEnabled returns every user config holding at least one search, in
// lexicographic object order. Listing order is stable across runs, which
// keeps time-budget truncation deterministic. Malformed blobs are skipped
// with a warning rather than aborting the sweep.
func (s *Store) ListEnabled(ctx context.Context) ([]*notifier.UserConfig, error) {
	keys, err := s.listKeys(ctx, userPrefix)
	if err != nil {
		return nil, fmt.Errorf("list user configs: %w", err)
	}
	sort.Strings(keys)

	var configs []*notifier.UserConfig
	for _, key := range keys {
		userID := strings.TrimSuffix(strings.TrimPrefix(key, userPrefix), ".json")
		cfg, err := s.LoadUser(ctx, userID)
		if err != nil {
			s.logger.Warn("Failed to load user config", "key", key, "error", err)
			continue
		}
		if len(cfg.Searches) == 0 {
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// stateDoc is the stored shape of one user's notification state: one
// entry per search name.
type stateDoc map[string]*notifier.NotificationState

// LoadState returns the stored state for (userID, searchName), or nil
// when the search has never been evaluated.
func (s *Store) LoadState(ctx context.Context, userID, searchName string) (*notifier.NotificationState, error) {
	doc, err := s.loadStateDoc(ctx, userID)
	if err != nil {
		return nil, err
	}
	return doc[searchName], nil
}

// SaveState persists the state for (userID, searchName). Each key is
// written by exactly one search evaluation per run, so read-modify-write
// without locking is safe for a single-pass sweep.
func (s *Store) SaveState(ctx context.Context, userID, searchName string, state *notifier.NotificationState) error {
	key := stateKey(userID)
	if key == "" {
		return fmt.Errorf("invalid user id %q", userID)
	}

	doc, err := s.loadStateDoc(ctx, userID)
	if err != nil {
		return err
	}
	doc[searchName] = state

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.writeObject(ctx, key, data); err != nil {
		return err
	}

	s.logger.Debug("Notification state saved",
		"user_id", userID,
		"search", searchName,
		"last_match", state.LastMatch)
	return nil
}

func (s *Store) loadStateDoc(ctx context.Context, userID string) (stateDoc, error) {
	key := stateKey(userID)
	if key == "" {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}

	data, err := s.readObject(ctx, key)
	if IsNotFound(err) {
		return stateDoc{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if doc == nil {
		doc = stateDoc{}
	}
	return doc, nil
}

func (s *Store) readObject(ctx context.Context, key string) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, filepath.FromSlash(key)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (s *Store) writeObject(ctx context.Context, key string, data []byte) error {
	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	// Local filesystem storage. Prefixes are always "<dir>/<file prefix>".
	if s.localPath != "" {
		dir, base, _ := strings.Cut(prefix, "/")
		entries, err := os.ReadDir(filepath.Join(s.localPath, dir))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}

		var keys []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), base) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, dir+"/"+entry.Name())
		}
		return keys, nil
	}

	// Cloud Storage
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if !strings.HasSuffix(attrs.Name, ".json") {
			continue
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
