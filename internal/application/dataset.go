package application

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ahrav/go-rollouts/internal/domain"
)

// maxTaskLineBytes bounds a single JSONL row. Task rows carry prompts
// and metadata, not payload blobs, so 16 MiB is generous.
const maxTaskLineBytes = 16 << 20

// ReadTasks loads tasks from a newline-delimited JSON file. Blank lines
// are skipped; the first malformed row aborts the load with its line
// number so a corrupt dataset is caught before any model traffic.
//
// limit > 0 truncates the dataset to its first limit rows; zero or
// negative reads everything.
func ReadTasks(path string, limit int) ([]domain.Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	var tasks []domain.Task
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTaskLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var task domain.Task
		if err := json.Unmarshal([]byte(line), &task); err != nil {
			return nil, fmt.Errorf("dataset %s line %d: %w", path, lineNo, err)
		}
		tasks = append(tasks, task)

		if limit > 0 && len(tasks) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return tasks, nil
}
