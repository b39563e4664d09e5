package decisionlog

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// GenesisHash is the hash_prev of the first entry of a log.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// hashLine returns the SHA-256 of one serialized entry, without the newline.
func hashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:])
}

// Verification is the result of checking a log's hash chain.
type Verification struct {
	Verified     int    `json:"verified"`
	IsIntact     bool   `json:"is_intact"`
	BrokenAt     int    `json:"broken_at"` // 0-based line across all files, -1 if intact
	File         string `json:"file,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`
	ActualHash   string `json:"actual_hash,omitempty"`
}

// Verify checks the hash chain of the log at path, including its rotated
// files (oldest first). The chain must start at GenesisHash unless older
// rotated files have already been discarded.
func Verify(path string) (*Verification, error) {
	files := chainFiles(path)
	result := &Verification{BrokenAt: -1, IsIntact: true}

	prev := GenesisHash
	trustFirst := rotatedCount(path) >= maxRotated
	line := 0

	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("opening %s: %w", file, err)
		}

		scanner := newScanner(f)
		for scanner.Scan() {
			raw := scanner.Bytes()
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				f.Close()
				result.IsIntact = false
				result.BrokenAt = line
				result.File = file
				return result, nil
			}
			if trustFirst && line == 0 {
				prev = e.HashPrev
			}
			if e.HashPrev != prev {
				f.Close()
				result.IsIntact = false
				result.BrokenAt = line
				result.File = file
				result.ExpectedHash = prev
				result.ActualHash = e.HashPrev
				return result, nil
			}
			result.Verified++
			prev = hashLine(raw)
			line++
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", file, err)
		}
	}

	return result, nil
}

// lastHash returns the hash of the final entry in the log at path, or of the
// newest rotated file when the current file is empty.
func lastHash(path string) (string, error) {
	files := chainFiles(path)
	for i := len(files) - 1; i >= 0; i-- {
		h, ok, err := lastLineHash(files[i])
		if err != nil {
			return "", err
		}
		if ok {
			return h, nil
		}
	}
	return GenesisHash, nil
}

func lastLineHash(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var last []byte
	scanner := newScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("scanning %s: %w", path, err)
	}
	if last == nil {
		return "", false, nil
	}
	return hashLine(last), true, nil
}

// lineScanner iterates over the lines of a log file like bufio.Scanner but
// without a maximum line length, since a single entry may embed an
// arbitrarily large command.
type lineScanner struct {
	r    *bufio.Reader
	line []byte
	err  error
}

func newScanner(f *os.File) *lineScanner {
	return &lineScanner{r: bufio.NewReaderSize(f, 64*1024)}
}

// Scan advances to the next line, reporting false at EOF or on error.
func (s *lineScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		if err != io.EOF {
			s.err = err
			return false
		}
		if len(line) == 0 {
			s.err = io.EOF
			return false
		}
		s.err = io.EOF
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	s.line = bytes.TrimSuffix(line, []byte("\r"))
	return true
}

// Bytes returns the current line without its line ending.
func (s *lineScanner) Bytes() []byte { return s.line }

// Err returns the first non-EOF read error.
func (s *lineScanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
