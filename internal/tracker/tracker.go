// Package tracker resolves tracked entities to locations from a YAML file of
// entity attributes, reloading the file when it changes on disk.
//
// The file maps entity ids to their attributes:
//
//	person.alice:
//	  latitude: -33.8688
//	  longitude: 151.2093
//	  Postal Code: "2000"
//	device_tracker.phone:
//	  Location: "-32.9283,151.7817"
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rubiojr/nswfuel/internal/coordinator"
	"gopkg.in/yaml.v3"
)

const debounceInterval = 100 * time.Millisecond

// Attributes are the state attributes of one entity.
type Attributes map[string]any

// Tracker is a coordinator.LocationProvider backed by a YAML file.
type Tracker struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	entities map[string]Attributes
}

// New loads path. A missing file yields a tracker with no entities.
func New(path string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Tracker{path: path, log: logger, entities: map[string]Attributes{}}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the entity file.
func (t *Tracker) Reload() error {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		t.log.Warn("entity file not found", "path", t.path)
		data = nil
	} else if err != nil {
		return fmt.Errorf("error reading entity file: %w", err)
	}

	entities := map[string]Attributes{}
	if err := yaml.Unmarshal(data, &entities); err != nil {
		return fmt.Errorf("error parsing entity file %s: %w", t.path, err)
	}

	t.mu.Lock()
	t.entities = entities
	t.mu.Unlock()
	t.log.Debug("entity file loaded", "path", t.path, "entities", len(entities))
	return nil
}

// Entities returns the ids currently in the file.
func (t *Tracker) Entities() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.entities))
	for id := range t.entities {
		ids = append(ids, id)
	}
	return ids
}

// Location implements coordinator.LocationProvider.
func (t *Tracker) Location(_ context.Context, entityID string) (coordinator.Location, error) {
	t.mu.RLock()
	attrs, ok := t.entities[entityID]
	t.mu.RUnlock()
	if !ok {
		return coordinator.Location{}, &coordinator.MissingLocationError{EntityID: entityID, Reason: "entity not found"}
	}
	return ParseLocation(entityID, attrs)
}

// ParseLocation extracts coordinates and postal code from entity
// attributes. A "lat,lon" Location attribute takes precedence over separate
// latitude and longitude attributes.
func ParseLocation(entityID string, attrs Attributes) (coordinator.Location, error) {
	loc := coordinator.Location{ID: entityID}

	if raw, ok := lookup(attrs, "Location", "location"); ok {
		parts := strings.SplitN(raw, ",", 2)
		if len(parts) == 2 {
			loc.Latitude = strings.TrimSpace(parts[0])
			loc.Longitude = strings.TrimSpace(parts[1])
		}
	}
	if loc.Latitude == "" || loc.Longitude == "" {
		loc.Latitude, _ = lookup(attrs, "latitude", "Latitude")
		loc.Longitude, _ = lookup(attrs, "longitude", "Longitude")
	}
	if loc.Latitude == "" || loc.Longitude == "" {
		return coordinator.Location{}, &coordinator.MissingLocationError{EntityID: entityID, Reason: "no latitude/longitude attributes"}
	}

	loc.NamedLocation, _ = lookup(attrs, "Postal Code", "postal_code", "postcode", "Postcode")
	return loc, nil
}

// lookup returns the first non-empty attribute among keys as a string.
func lookup(attrs Attributes, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := attrs[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = strings.TrimSpace(val)
		case float64:
			s = strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			s = strconv.Itoa(val)
		default:
			s = fmt.Sprint(val)
		}
		if s != "" {
			return s, true
		}
	}
	return "", false
}

// Watch reloads the file whenever it is written or replaced, until ctx is
// cancelled. The parent directory is watched so editors that replace the
// file on save are picked up.
func (t *Tracker) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("error watching %s: %w", t.path, err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(t.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceInterval, func() {
				if err := t.Reload(); err != nil {
					t.log.Error("entity file reload failed", "error", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Error("file watcher error", "error", err)
		}
	}
}
