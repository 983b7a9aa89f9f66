package handlers

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/codeak/portal/pkg/logger"
	"github.com/codeak/portal/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultLogLines = 100
	maxLogLines     = 5000
)

// LogsHandler exposes the tail of the flat log file written by pkg/logger.
type LogsHandler struct {
	FilePath string
}

func NewLogsHandler(filePath string) *LogsHandler {
	return &LogsHandler{FilePath: filePath}
}

func (h *LogsHandler) View(c *fiber.Ctx) error {
	limit := defaultLogLines
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return utils.Error(c, fiber.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxLogLines)
	}

	lines, err := tailLines(h.FilePath, limit)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return utils.Error(c, fiber.StatusNotFound, "log file not found")
		}
		logger.Error("log_read_failed", err, map[string]interface{}{"path": h.FilePath})
		return utils.Error(c, fiber.StatusInternalServerError, "failed reading logs")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"logs": lines})
}

const maxLogLineBytes = 64 * 1024

// tailLines returns the last n non-empty lines of the file, oldest first.
// Lines longer than maxLogLineBytes are cut and marked.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	reader := bufio.NewReaderSize(f, maxLogLineBytes)
	for {
		line, err := readLogLine(reader)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if strings.TrimSpace(line) != "" {
			if len(ring) == n {
				ring = append(ring[1:], line)
			} else {
				ring = append(ring, line)
			}
		}
		if errors.Is(err, io.EOF) {
			return ring, nil
		}
	}
}

// readLogLine reads one line, keeping at most the reader's buffer size and
// discarding the rest of it.
func readLogLine(r *bufio.Reader) (string, error) {
	chunk, isPrefix, err := r.ReadLine()
	if err != nil {
		return "", err
	}
	line := string(chunk)
	if !isPrefix {
		return line, nil
	}
	for isPrefix {
		_, isPrefix, err = r.ReadLine()
		if err != nil {
			return line + " [truncated]", err
		}
	}
	return line + " [truncated]", nil
}
