package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum-optimism/infra/op-regress/harness"
)

// RunDirectoryPrefix names the per-run log directory
const RunDirectoryPrefix = "run-"

// WriteDriverLogs writes one log per verdict into
// <dir>/run-<id>/{passed,failed}/<driver>.log and returns the run directory.
// Each log holds the verdict diagnostic followed by the raw output.
func WriteDriverLogs(dir string, result *harness.RunResult) (string, error) {
	runDir := filepath.Join(dir, RunDirectoryPrefix+result.RunID)
	passedDir := filepath.Join(runDir, "passed")
	failedDir := filepath.Join(runDir, "failed")
	for _, d := range []string{runDir, passedDir, failedDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}

	for _, v := range result.Verdicts {
		target := passedDir
		if !v.Pass {
			target = failedDir
		}
		path := filepath.Join(target, safeFilename(v.Driver)+".log")
		if err := NewFileWriter(path).Write(v.Diagnostic()); err != nil {
			return "", fmt.Errorf("failed to write log for %s: %w", v.Driver, err)
		}
	}
	return runDir, nil
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
)

func safeFilename(s string) string {
	return filenameReplacer.Replace(s)
}
