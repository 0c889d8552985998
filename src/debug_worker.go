package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ryansname/agate2mqtt/src/sunspec"
)

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m" // Yellow for changed values
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// shortTopic drops the fixed prefix, e.g.
// "FranklinWH/AGate/DERMeasureAC/W" -> "DERMeasureAC/W"
func shortTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], "/")
	}
	return topic
}

// DebugState tracks watched topics and the latest cycle
type DebugState struct {
	watches       []string
	headerPrinted bool
	columnWidths  []int
	latest        *Snapshot
	rl            *readline.Instance
	prevValues    map[string]string // Track previous value per watch for change highlighting
}

// NewDebugState creates a new debug state
func NewDebugState() *DebugState {
	return &DebugState{
		prevValues: make(map[string]string),
	}
}

// print outputs a line, handling readline prompt properly
func (s *DebugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// resolveTopic expands a short topic to a full one using the latest cycle.
// Unknown topics are returned unchanged so they can be watched before they appear.
func (s *DebugState) resolveTopic(topic string) string {
	if s.latest == nil {
		return topic
	}
	if _, ok := s.latest.Values[topic]; ok {
		return topic
	}

	var matches []string
	for full := range s.latest.Values {
		if strings.HasSuffix(full, "/"+topic) {
			matches = append(matches, full)
		}
	}
	if len(matches) == 1 {
		return matches[0]
	}
	return topic
}

// AddWatch adds a watch and re-sorts the list
func (s *DebugState) AddWatch(topic string) {
	topic = s.resolveTopic(topic)
	if slices.Contains(s.watches, topic) {
		log.Printf("Already watching: %s", topic)
		return
	}

	s.watches = append(s.watches, topic)
	sort.Slice(s.watches, func(i, j int) bool {
		return shortTopic(s.watches[i]) < shortTopic(s.watches[j])
	})
	s.headerPrinted = false
	log.Printf("Watching: %s", topic)
}

// RemoveWatch removes a watch by full or short topic
func (s *DebugState) RemoveWatch(topic string) bool {
	for i, w := range s.watches {
		if w == topic || shortTopic(w) == topic {
			s.watches = slices.Delete(s.watches, i, i+1)
			s.headerPrinted = false
			log.Printf("Unwatched: %s", w)
			return true
		}
	}
	log.Printf("No watch found for: %s", topic)
	return false
}

// RemoveAll removes all watches
func (s *DebugState) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerPrinted = false
	log.Println("All watches removed")
}

// UpdateData stores the latest snapshot for the list and models commands
func (s *DebugState) UpdateData(snap Snapshot) {
	s.latest = &snap
}

// ListTopics prints every topic published in the last cycle
func (s *DebugState) ListTopics() {
	if s.latest == nil {
		log.Println("No data received yet")
		return
	}

	topics := slices.Sorted(maps.Keys(s.latest.Values))

	s.print("Published topics (%d) at %s:", len(topics), s.latest.Time.Format("15:04:05"))
	for _, topic := range topics {
		s.print("  %-50s %s", topic, s.latest.Values[topic])
	}
}

// ListModels prints the models found in the last scan
func (s *DebugState) ListModels() {
	if s.latest == nil {
		log.Println("No data received yet")
		return
	}

	s.print("Models (%d):", len(s.latest.Models))
	for _, id := range s.latest.Models {
		name := "-"
		if topicName, ok := IncludeModels[id]; ok {
			name = topicName + " [published]"
		} else if def, ok := sunspec.Lookup(id); ok {
			name = def.Name
		}
		s.print("  %5d %s", id, name)
	}
}

// valueOf returns the watched topic's payload, or "-" if it was not published
func (s *DebugState) valueOf(snap Snapshot, topic string) string {
	if v, ok := snap.Values[topic]; ok {
		return v
	}
	return "-"
}

// PrintHeader prints the column headers
func (s *DebugState) PrintHeader() {
	if len(s.watches) == 0 {
		return
	}

	s.columnWidths = make([]int, len(s.watches))
	for i, w := range s.watches {
		s.columnWidths[i] = len(shortTopic(w))
	}

	parts := make([]string, 0, len(s.watches))
	for i, w := range s.watches {
		parts = append(parts, fmt.Sprintf("%*s", s.columnWidths[i], shortTopic(w)))
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerPrinted = true
	s.prevValues = make(map[string]string) // Reset previous values when header changes
}

// PrintRow prints the current values for all watches (only if changed).
// Returns true if a row was printed.
func (s *DebugState) PrintRow(snap Snapshot) bool {
	if len(s.watches) == 0 {
		return false
	}

	if !s.headerPrinted {
		s.PrintHeader()
	}

	parts := make([]string, 0, len(s.watches))
	anyChanged := false
	newValues := make(map[string]string, len(s.watches))

	for i, w := range s.watches {
		value := s.valueOf(snap, w)
		newValues[w] = value

		width := s.columnWidths[i]
		if len(value) > width {
			width = len(value)
			s.columnWidths[i] = width
		}

		prevValue, hasPrev := s.prevValues[w]
		if !hasPrev || prevValue != value {
			anyChanged = true
			parts = append(parts, fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset))
		} else {
			parts = append(parts, fmt.Sprintf("%*s", width, value))
		}
	}

	if anyChanged {
		s.print("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
	return anyChanged
}

// handleDebugCommand processes a console command
func handleDebugCommand(cmd string, state *DebugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "watch":
		if len(parts) != 2 {
			log.Println("Usage: watch <topic>")
			return
		}
		state.AddWatch(parts[1])

	case "unwatch":
		if len(parts) != 2 {
			log.Println("Usage: unwatch <topic> | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		state.RemoveWatch(parts[1])

	case "list":
		state.ListTopics()

	case "models":
		state.ListModels()

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  list                 - List topics published in the last cycle")
		fmt.Println("  models               - List models found in the last scan")
		fmt.Println("  watch <topic>        - Watch a topic (full, or e.g. DERMeasureAC/W)")
		fmt.Println("  unwatch <topic>      - Remove watch")
		fmt.Println("  unwatch --all        - Remove all watches")
		fmt.Println("  help                 - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !sendCommand(ctx, commandChan, line) {
			return
		}
	}
}

// sendCommand hands a line to the worker, giving up once ctx is cancelled
func sendCommand(ctx context.Context, commandChan chan<- string, line string) bool {
	select {
	case commandChan <- line:
		return true
	case <-ctx.Done():
		return false
	}
}

// getHistoryFilePath returns the path for the console history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	appCache := filepath.Join(cacheDir, "agate2mqtt")
	_ = os.MkdirAll(appCache, 0750)
	return filepath.Join(appCache, "console_history")
}

// debugWorker provides interactive introspection of each poll cycle
func debugWorker(ctx context.Context, cancel context.CancelFunc, snapshots <-chan Snapshot) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}

	// Redirect log output through readline-aware writer
	writer := &readlineWriter{rl: rl}
	log.SetOutput(writer)
	defer func() {
		log.SetOutput(os.Stderr)
		_ = rl.Close()
	}()

	log.Println("Debug console started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState()
	state.rl = rl

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case snap := <-snapshots:
			state.UpdateData(snap)
			state.PrintRow(snap)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
