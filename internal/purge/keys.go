package purge

import (
	"bufio"
	"io"
	"strings"

	dErrors "sweeper/pkg/domain-errors"
	pstrings "sweeper/pkg/platform/strings"
)

// ReadEmails reads one email per line. Blank lines and lines starting with #
// are skipped; the rest are trimmed and de-duplicated in order, ignoring case.
// Each email keeps the spelling of its first occurrence.
func ReadEmails(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "could not read email list")
	}
	return pstrings.DedupeAndTrimFold(lines), nil
}

// ParseHosts splits a comma-delimited hostname list, trimming and
// de-duplicating entries in order.
func ParseHosts(list string) []string {
	return pstrings.SplitList(list, ",")
}
