package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/events"
	"github.com/mcp-jive/jive/internal/storage"
)

// SyncResult summarizes one export or import run.
type SyncResult struct {
	Exported int      `json:"exported,omitempty"`
	Created  int      `json:"created,omitempty"`
	Updated  int      `json:"updated,omitempty"`
	Skipped  int      `json:"skipped,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

func namespaceDir(root string, ns Namespace) string {
	return filepath.Join(root, string(ns))
}

// ExportDir writes every memory item to <dir>/<namespace>/<slug>.md,
// overwriting files already present.
func (s *Store) ExportDir(ctx context.Context, dir string) (*SyncResult, error) {
	result := &SyncResult{}

	arch, err := s.ListArchitecture(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	archDir := namespaceDir(dir, NamespaceArchitecture)
	if err := os.MkdirAll(archDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	for _, item := range arch {
		data, err := ExportArchitecture(item)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.UniqueSlug, err))
			continue
		}
		if err := os.WriteFile(filepath.Join(archDir, item.UniqueSlug+".md"), data, 0o644); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.UniqueSlug, err))
			continue
		}
		result.Exported++
	}

	trouble, err := s.ListTroubleshoot(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	troubleDir := namespaceDir(dir, NamespaceTroubleshoot)
	if err := os.MkdirAll(troubleDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	for _, item := range trouble {
		data, err := ExportTroubleshoot(item)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.UniqueSlug, err))
			continue
		}
		if err := os.WriteFile(filepath.Join(troubleDir, item.UniqueSlug+".md"), data, 0o644); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.UniqueSlug, err))
			continue
		}
		result.Exported++
	}

	s.logger.Info("memory export complete",
		zap.String("dir", dir),
		zap.Int("exported", result.Exported),
		zap.Int("errors", len(result.Errors)))
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      events.MemoryExported,
			Summary:   fmt.Sprintf("exported %d memory items", result.Exported),
			Timestamp: time.Now().UTC(),
		})
	}
	return result, nil
}

// ImportDir reads <dir>/architecture/*.md and <dir>/troubleshoot/*.md and
// applies them under the given mode. Per-file failures are collected rather
// than aborting the run.
func (s *Store) ImportDir(ctx context.Context, dir string, mode ImportMode) (*SyncResult, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown import mode %q", mode)
	}
	if mode == "" {
		mode = ImportCreateOrUpdate
	}
	result := &SyncResult{}

	if mode == ImportReplace {
		if err := s.deleteAll(ctx); err != nil {
			return nil, err
		}
	}

	err := s.importNamespace(ctx, namespaceDir(dir, NamespaceArchitecture), mode, result, func(data []byte) error {
		item, err := ImportArchitecture(data)
		if err != nil {
			return err
		}
		return s.applyArchitecture(ctx, item, mode, result)
	})
	if err != nil {
		return nil, err
	}

	err = s.importNamespace(ctx, namespaceDir(dir, NamespaceTroubleshoot), mode, result, func(data []byte) error {
		item, err := ImportTroubleshoot(data)
		if err != nil {
			return err
		}
		return s.applyTroubleshoot(ctx, item, mode, result)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("memory import complete",
		zap.String("dir", dir),
		zap.String("mode", string(mode)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:      events.MemoryImported,
			Summary:   fmt.Sprintf("imported %d memory items", result.Created+result.Updated),
			Timestamp: time.Now().UTC(),
		})
	}
	return result, nil
}

func (s *Store) importNamespace(ctx context.Context, dir string, mode ImportMode, result *SyncResult, apply func([]byte) error) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read import dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
			continue
		}
		if err := apply(data); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entry.Name(), err))
		}
	}
	return nil
}

func (s *Store) applyArchitecture(ctx context.Context, item *ArchitectureItem, mode ImportMode, result *SyncResult) error {
	_, err := s.GetArchitecture(ctx, item.UniqueSlug)
	exists := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	switch {
	case exists && mode == ImportCreateOnly:
		result.Skipped++
		return nil
	case !exists && mode == ImportUpdateOnly:
		result.Skipped++
		return nil
	case exists:
		if _, err := s.UpdateArchitecture(ctx, item); err != nil {
			return err
		}
		result.Updated++
	default:
		if _, err := s.CreateArchitecture(ctx, item); err != nil {
			return err
		}
		result.Created++
	}
	return nil
}

func (s *Store) applyTroubleshoot(ctx context.Context, item *TroubleshootItem, mode ImportMode, result *SyncResult) error {
	_, err := s.GetTroubleshoot(ctx, item.UniqueSlug)
	exists := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	switch {
	case exists && mode == ImportCreateOnly:
		result.Skipped++
		return nil
	case !exists && mode == ImportUpdateOnly:
		result.Skipped++
		return nil
	case exists:
		if _, err := s.UpdateTroubleshoot(ctx, item); err != nil {
			return err
		}
		result.Updated++
	default:
		if _, err := s.CreateTroubleshoot(ctx, item); err != nil {
			return err
		}
		result.Created++
	}
	return nil
}

// deleteAll clears both namespaces ahead of a replace import.
func (s *Store) deleteAll(ctx context.Context) error {
	arch, err := s.ListArchitecture(ctx, 0, 0)
	if err != nil {
		return err
	}
	for _, item := range arch {
		if err := s.DeleteArchitecture(ctx, item.UniqueSlug); err != nil {
			return err
		}
	}
	trouble, err := s.ListTroubleshoot(ctx, 0, 0)
	if err != nil {
		return err
	}
	for _, item := range trouble {
		if err := s.DeleteTroubleshoot(ctx, item.UniqueSlug); err != nil {
			return err
		}
	}
	return nil
}
