package net

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/edaniels/golog"
)

// CSVLogger appends scalar summaries to a CSV file every Interval steps.
// The columns are step, loss, elapsed seconds and the scalar names of the
// first summary in sorted order.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool
	Interval int64
	Logger   golog.Logger

	file    *os.File
	writer  *csv.Writer
	columns []string
}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool, interval int64, logger golog.Logger) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Append:   append,
		Interval: interval,
		Logger:   logger,
	}
}

func (c *CSVLogger) OnTrainBegin(m Model) {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	if err := os.MkdirAll(filepath.Dir(c.Filename), 0o755); err != nil {
		c.Logger.Errorw("CSVLogger: failed to create directory", "file", c.Filename, "error", err)
		return
	}
	file, err := os.OpenFile(c.Filename, mode, 0o644)
	if err != nil {
		c.Logger.Errorw("CSVLogger: failed to open file", "file", c.Filename, "error", err)
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)
}

func (c *CSVLogger) OnStepEnd(s StepSummary, m Model) {
	if c.writer == nil || c.Interval <= 0 || s.Step%c.Interval != 0 {
		return
	}

	if c.columns == nil {
		for name := range s.Scalars {
			c.columns = append(c.columns, name)
		}
		sort.Strings(c.columns)

		info, err := c.file.Stat()
		if err == nil && (info.Size() == 0 || !c.Append) {
			header := append([]string{"step", "loss", "time_seconds"}, c.columns...)
			if err := c.writer.Write(header); err != nil {
				c.Logger.Errorw("CSVLogger: failed to write header", "error", err)
			}
		}
	}

	record := []string{
		strconv.FormatInt(s.Step, 10),
		strconv.FormatFloat(s.Loss, 'f', 6, 64),
		strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 2, 64),
	}
	for _, name := range c.columns {
		record = append(record, strconv.FormatFloat(s.Scalars[name], 'g', 8, 64))
	}

	if err := c.writer.Write(record); err != nil {
		c.Logger.Errorw("CSVLogger: failed to write record", "error", err)
	}
	c.writer.Flush()
}

func (c *CSVLogger) OnTrainEnd(step int64, m Model) {
	if c.file != nil {
		c.writer.Flush()
		c.file.Close()
		c.file = nil
		c.writer = nil
	}
}
