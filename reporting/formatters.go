package reporting

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum-optimism/infra/op-regress/harness"
	"github.com/ethereum-optimism/infra/op-regress/types"
)

// StatusDisplay represents display information for a verdict
type StatusDisplay struct {
	Text  string
	Class string
}

func getStatusDisplay(v *types.Verdict) StatusDisplay {
	switch {
	case v.Pass:
		return StatusDisplay{Text: "PASS", Class: "pass"}
	case v.Kind.IsRuntime():
		return StatusDisplay{Text: "ERROR", Class: "error"}
	default:
		return StatusDisplay{Text: "FAIL", Class: "fail"}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// ReportFormatter renders a run result
type ReportFormatter interface {
	Format(result *harness.RunResult) (string, error)
}

// ReportWriter writes a rendered report somewhere
type ReportWriter interface {
	Write(content string) error
}

type FileWriter struct {
	path string
}

func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

func (fw *FileWriter) Write(content string) error {
	return os.WriteFile(fw.path, []byte(content), 0644)
}

type StdoutWriter struct{}

func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{}
}

func (sw *StdoutWriter) Write(content string) error {
	_, err := fmt.Print(content)
	return err
}

// ReportGenerator combines a formatter and a writer
type ReportGenerator struct {
	formatter ReportFormatter
	writer    ReportWriter
}

func NewReportGenerator(formatter ReportFormatter, writer ReportWriter) *ReportGenerator {
	return &ReportGenerator{formatter: formatter, writer: writer}
}

// Generate formats the result and writes it
func (rg *ReportGenerator) Generate(result *harness.RunResult) error {
	content, err := rg.formatter.Format(result)
	if err != nil {
		return fmt.Errorf("failed to format report: %w", err)
	}
	if err := rg.writer.Write(content); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
