package experiment

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/logx"
)

var statsHeader = []string{
	"Round", "Topic", "Difficulty", "Outcome",
	"StudentAction", "StudentReward", "TeacherAction", "TeacherReward",
	"StudentState", "TeacherState", "Degraded",
}

// StatsFile writes one CSV line per completed round.
type StatsFile struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *csv.Writer
}

// NewStatsFile creates experiment_stats_<timestamp>.csv in dir.
func NewStatsFile(dir string) (*StatsFile, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stats dir: %w", err)
	}
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	path := filepath.Join(dir, fmt.Sprintf("experiment_stats_%s.csv", timestamp))
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create stats file: %w", err)
	}
	s := &StatsFile{path: path, file: f, w: csv.NewWriter(f)}
	if err := s.write(statsHeader); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *StatsFile) Path() string {
	return s.path
}

// Notify implements core.Notifier.
func (s *StatsFile) Notify(ev core.Event) {
	if ev.Kind != core.EventRoundCompleted || ev.Round == nil {
		return
	}
	r := ev.Round
	line := []string{
		strconv.Itoa(r.Index + 1),
		r.Topic,
		r.Difficulty,
		string(r.Outcome),
		string(r.Student.Action),
		strconv.FormatFloat(r.Student.Reward, 'f', 2, 64),
		string(r.Teacher.Action),
		strconv.FormatFloat(r.Teacher.Reward, 'f', 2, 64),
		r.Student.State.String(),
		r.Teacher.State.String(),
		strconv.FormatBool(r.Degraded),
	}
	if err := s.write(line); err != nil {
		logx.Warnf("failed to write to stats file: %v", err)
	}
}

func (s *StatsFile) write(record []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(record); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *StatsFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.file.Close()
}
