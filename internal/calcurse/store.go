// Package calcurse drives a calcurse binary as the local object store.
package calcurse

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

const DefaultBinary = "calcurse"

// MinVersion is the oldest calcurse ordinal (major*10+minor) that supports
// the flags this store depends on.
const MinVersion = 40

// LocalError reports an operation rejected by the local store. It aborts
// the run; no automatic retry.
type LocalError struct {
	Op  string
	Err error
}

func (e *LocalError) Error() string { return fmt.Sprintf("calcurse: %s: %v", e.Op, e.Err) }
func (e *LocalError) Unwrap() error { return e.Err }

// Runner executes the calcurse binary and returns its stdout. Injectable
// for tests.
type Runner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Store exposes the calcurse binary as the Local Store capability.
type Store struct {
	binary string
	run    Runner
}

func New(binary string) *Store {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Store{binary: binary, run: execRunner}
}

// Hashes returns the content identifiers of all objects currently in the
// store: one SHA-1 per line of the internal listing (`calcurse -G`).
//
// Note the identity is the hash of the listing line, not of the exported
// iCal body. That keeps sync databases written by calcurse's own CalDAV
// script meaningful to this tool, at the cost that an edit invisible to
// the listing does not change identity.
func (s *Store) Hashes(ctx context.Context) (mapset.Set[string], error) {
	out, err := s.run(ctx, nil, s.binary, "-G")
	if err != nil {
		return nil, &LocalError{Op: "list objects", Err: err}
	}

	hashes := mapset.NewSet[string]()
	for _, line := range bytes.Split(out, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		hashes.Add(fmt.Sprintf("%x", sha1.Sum(line)))
	}
	return hashes, nil
}

// Export serializes the object identified by objHash as iCal.
func (s *Store) Export(ctx context.Context, objHash string) ([]byte, error) {
	out, err := s.run(ctx, nil, s.binary, "-x", "ical", "--export-uid", "--filter-hash="+objHash)
	if err != nil {
		return nil, &LocalError{Op: "export " + objHash, Err: err}
	}
	return bytes.TrimRight(out, "\n"), nil
}

// Import feeds an iCal record into the store and returns the hash the
// store assigned to it.
func (s *Store) Import(ctx context.Context, ical []byte) (string, error) {
	out, err := s.run(ctx, ical, s.binary, "-i", "-", "--list-imported", "-q")
	if err != nil {
		return "", &LocalError{Op: "import", Err: err}
	}
	objHash := strings.TrimSpace(string(out))
	if objHash == "" {
		return "", &LocalError{Op: "import", Err: fmt.Errorf("no imported object reported")}
	}
	return objHash, nil
}

// Remove deletes the object identified by objHash.
func (s *Store) Remove(ctx context.Context, objHash string) error {
	if _, err := s.run(ctx, nil, s.binary, "-F", "--filter-hash=!"+objHash); err != nil {
		return &LocalError{Op: "remove " + objHash, Err: err}
	}
	return nil
}

// Wipe deletes every object in the store.
func (s *Store) Wipe(ctx context.Context) error {
	if _, err := s.run(ctx, nil, s.binary, "-F", "--filter-hash=XXX"); err != nil {
		return &LocalError{Op: "wipe", Err: err}
	}
	return nil
}

// Version returns the binary's version as an ordinal (major*10+minor),
// or an error when the binary does not look like calcurse at all.
func (s *Store) Version(ctx context.Context) (int, error) {
	out, err := s.run(ctx, nil, s.binary, "--version")
	if err != nil {
		return 0, &LocalError{Op: "version", Err: err}
	}

	tokens := strings.Fields(string(out))
	if len(tokens) < 2 || !strings.EqualFold(tokens[0], "calcurse") {
		return 0, &LocalError{Op: "version", Err: fmt.Errorf("unrecognized version output %q", strings.TrimSpace(string(out)))}
	}

	parts := strings.Split(tokens[1], ".")
	if len(parts) < 2 {
		return 0, &LocalError{Op: "version", Err: fmt.Errorf("unrecognized version %q", tokens[1])}
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, &LocalError{Op: "version", Err: fmt.Errorf("unrecognized version %q", tokens[1])}
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, &LocalError{Op: "version", Err: fmt.Errorf("unrecognized version %q", tokens[1])}
	}
	return major*10 + minor, nil
}
