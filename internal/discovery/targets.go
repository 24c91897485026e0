package discovery

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/anstrom/netsweep/internal/errors"
)

// ReadTargets reads one target entry per line. Blank lines and lines
// starting with '#' are skipped; trailing '#' comments are stripped.
func ReadTargets(r io.Reader) ([]string, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapScanError(errors.CodeParseFailed, "failed to read targets", err)
	}
	return entries, nil
}

// ReadTargetsFile reads target entries from path.
func ReadTargetsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapScanError(errors.CodeFileNotFound, "failed to open targets file", err).
			WithContext("path", path)
	}
	defer f.Close()
	return ReadTargets(f)
}
