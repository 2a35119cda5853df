package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"babylon/internal/decision"
	"babylon/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// 中文说明：
// NPC 花名册从 YAML 文件加载，支持热更新：文件变化时重新解析并通知
// 订阅者。解析失败保留旧快照，不中断运行。

type rosterFile struct {
	NPCs []decision.NPC `yaml:"npcs"`
}

// RosterSnapshot 对外暴露的只读快照。
type RosterSnapshot struct {
	Version  int64
	LoadedAt time.Time
	NPCs     []decision.NPC
}

// Referrers 返回 npc id -> referrer id 的查找表。
func (s RosterSnapshot) Referrers() map[string]string {
	out := make(map[string]string, len(s.NPCs))
	for _, n := range s.NPCs {
		if n.ReferrerID != "" {
			out[n.ID] = n.ReferrerID
		}
	}
	return out
}

// ChangeListener 在花名册变更时被调用。
type ChangeListener func(RosterSnapshot)

// RosterLoader 负责从 YAML 文件中加载 NPC 花名册，并监听热更新。
type RosterLoader struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	snapshot  RosterSnapshot
	listeners []ChangeListener
}

// NewRosterLoader 读取花名册并开始监听 FS 事件。
func NewRosterLoader(path string) (*RosterLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("roster loader requires path")
	}
	l := &RosterLoader{path: path}
	if err := l.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("roster watcher failed: %w", err)
	}
	// watch the directory: editors replace the file, which breaks a
	// direct file watch
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("roster watch %s failed: %w", path, err)
	}
	l.watcher = watcher
	go l.watchLoop()
	return l, nil
}

// Close stops the file watcher.
func (l *RosterLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Snapshot 返回当前花名册快照（深拷贝）。
func (l *RosterLoader) Snapshot() RosterSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *RosterLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeNotify(fn, snap)
}

func (l *RosterLoader) watchLoop() {
	base := filepath.Base(l.path)
	for {
		select {
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != base {
				continue
			}
			if !evt.Op.Has(fsnotify.Write) && !evt.Op.Has(fsnotify.Create) && !evt.Op.Has(fsnotify.Rename) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("roster reload failed (%s): %v", evt.Name, err)
				continue
			}
			l.notify()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("roster watcher error: %v", err)
		}
	}
}

func (l *RosterLoader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read roster failed: %w", err)
	}
	var file rosterFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse roster failed: %w", err)
	}
	npcs, err := normalizeRoster(file.NPCs)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.snapshot = RosterSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		NPCs:     npcs,
	}
	count := len(npcs)
	version := l.snapshot.Version
	l.mu.Unlock()
	logger.Infof("roster loaded: npcs=%d version=%d path=%s", count, version, l.path)
	return nil
}

func (l *RosterLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go safeNotify(fn, snap)
	}
}

func safeNotify(fn ChangeListener, snap RosterSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("roster listener panic: %v", r)
		}
	}()
	fn(snap)
}

func normalizeRoster(npcs []decision.NPC) ([]decision.NPC, error) {
	out := make([]decision.NPC, 0, len(npcs))
	seen := map[string]bool{}
	for _, n := range npcs {
		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" {
			return nil, fmt.Errorf("roster contains npc without id")
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("roster contains duplicate npc id %s", n.ID)
		}
		seen[n.ID] = true
		if strings.TrimSpace(n.Name) == "" {
			n.Name = n.ID
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneSnapshot(s RosterSnapshot) RosterSnapshot {
	return RosterSnapshot{
		Version:  s.Version,
		LoadedAt: s.LoadedAt,
		NPCs:     append([]decision.NPC(nil), s.NPCs...),
	}
}
