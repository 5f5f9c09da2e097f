// ABOUTME: Parser and applier for standard unified-diff patches (---/+++/@@ markers).
// ABOUTME: Keeps the fuzzy hunk-matching idiom: trailing-whitespace-tolerant match, then fully-trimmed.

package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// UnifiedHunk is a single @@ ... @@ region within a file's diff.
// MatchLines and ReplaceLines preserve the interleaved order of context and
// change lines, which is required for correct matching against the file.
type UnifiedHunk struct {
	MatchLines   []string // context + deleted lines, in original order
	ReplaceLines []string // context + added lines, in original order
}

// FileDiff is the set of hunks for a single file within a unified diff.
type FileDiff struct {
	OldPath string
	NewPath string
	NewFile bool
	Deleted bool
	Hunks   []UnifiedHunk
}

// UnifiedDiff is a parsed multi-file unified diff.
type UnifiedDiff struct {
	Files []FileDiff
}

// HunkRejection describes a hunk that could not be located in its target file.
type HunkRejection struct {
	File   string
	Reason string
}

// PatchApplyResult holds the outcome of applying a unified diff.
type PatchApplyResult struct {
	FilesChanged int
	HunksApplied int
	HunksRejected []HunkRejection
}

var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// ParseUnifiedDiff parses a standard unified-diff string into per-file hunks.
func ParseUnifiedDiff(input string) (*UnifiedDiff, error) {
	lines := strings.Split(input, "\n")
	diff := &UnifiedDiff{}

	i := 0
	for i < len(lines) {
		line := lines[i]

		if strings.HasPrefix(line, "--- ") {
			file, nextI, err := parseFileDiff(lines, i)
			if err != nil {
				return nil, err
			}
			diff.Files = append(diff.Files, file)
			i = nextI
			continue
		}
		i++
	}

	if len(diff.Files) == 0 {
		return nil, fmt.Errorf("invalid patch: no file headers found (expected '--- a/path' lines)")
	}

	return diff, nil
}

func parseFileDiff(lines []string, i int) (FileDiff, int, error) {
	oldHeader := strings.TrimPrefix(lines[i], "--- ")
	i++
	if i >= len(lines) || !strings.HasPrefix(lines[i], "+++ ") {
		return FileDiff{}, i, fmt.Errorf("invalid patch: expected '+++' line after %q", lines[i-1])
	}
	newHeader := strings.TrimPrefix(lines[i], "+++ ")
	i++

	file := FileDiff{
		OldPath: normalizeDiffPath(oldHeader),
		NewPath: normalizeDiffPath(newHeader),
	}
	if file.OldPath == "/dev/null" {
		file.NewFile = true
	}
	if file.NewPath == "/dev/null" {
		file.Deleted = true
	}

	for i < len(lines) && hunkHeaderPattern.MatchString(lines[i]) {
		hunk, nextI := parseHunk(lines, i)
		file.Hunks = append(file.Hunks, hunk)
		i = nextI
	}

	return file, i, nil
}

func normalizeDiffPath(header string) string {
	header = strings.TrimRight(header, " \t\r")
	// Strip a trailing tab-separated timestamp, if present.
	if idx := strings.Index(header, "\t"); idx >= 0 {
		header = header[:idx]
	}
	if header == "/dev/null" {
		return header
	}
	if strings.HasPrefix(header, "a/") || strings.HasPrefix(header, "b/") {
		return header[2:]
	}
	return header
}

func parseHunk(lines []string, i int) (UnifiedHunk, int) {
	i++ // skip the @@ header line
	hunk := UnifiedHunk{}

	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(line, "@@ -") || strings.HasPrefix(line, "--- ") {
			break
		}
		if len(line) == 0 {
			i++
			continue
		}

		prefix := line[0]
		rest := line[1:]
		switch prefix {
		case ' ':
			hunk.MatchLines = append(hunk.MatchLines, rest)
			hunk.ReplaceLines = append(hunk.ReplaceLines, rest)
		case '-':
			hunk.MatchLines = append(hunk.MatchLines, rest)
		case '+':
			hunk.ReplaceLines = append(hunk.ReplaceLines, rest)
		case '\\':
			// "\ No newline at end of file" marker, not a content line.
		default:
			hunk.MatchLines = append(hunk.MatchLines, line)
			hunk.ReplaceLines = append(hunk.ReplaceLines, line)
		}
		i++
	}

	return hunk, i
}

// ApplyUnifiedDiff applies a parsed diff to the filesystem via the ExecutionEnvironment.
// Rejected hunks are recorded but do not abort the remaining hunks or files.
func ApplyUnifiedDiff(diff *UnifiedDiff, env ExecutionEnvironment) (*PatchApplyResult, error) {
	result := &PatchApplyResult{}

	for _, file := range diff.Files {
		switch {
		case file.Deleted:
			if err := env.DeleteFile(file.OldPath); err != nil {
				return nil, fmt.Errorf("delete file %s: %w", file.OldPath, err)
			}
			result.FilesChanged++

		case file.NewFile:
			var content []string
			if len(file.Hunks) > 0 {
				content = file.Hunks[0].ReplaceLines
			}
			if err := env.WriteFile(file.NewPath, strings.Join(content, "\n")); err != nil {
				return nil, fmt.Errorf("create file %s: %w", file.NewPath, err)
			}
			result.FilesChanged++
			result.HunksApplied += len(file.Hunks)

		default:
			applied, rejected, err := applyFileHunks(file, env)
			if err != nil {
				return nil, err
			}
			if applied > 0 {
				result.FilesChanged++
			}
			result.HunksApplied += applied
			result.HunksRejected = append(result.HunksRejected, rejected...)
		}
	}

	return result, nil
}

func applyFileHunks(file FileDiff, env ExecutionEnvironment) (int, []HunkRejection, error) {
	content, err := env.ReadFile(file.OldPath, 0, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("read file for patch %s: %w", file.OldPath, err)
	}
	fileLines := strings.Split(content, "\n")

	applied := 0
	var rejected []HunkRejection

	for _, hunk := range file.Hunks {
		newLines, ok := applyHunk(fileLines, hunk)
		if !ok {
			rejected = append(rejected, HunkRejection{
				File:   file.OldPath,
				Reason: "could not locate hunk context in file",
			})
			continue
		}
		fileLines = newLines
		applied++
	}

	if applied > 0 {
		newContent := strings.Join(fileLines, "\n")
		targetPath := file.NewPath
		if targetPath == "" {
			targetPath = file.OldPath
		}
		if err := env.WriteFile(targetPath, newContent); err != nil {
			return 0, nil, fmt.Errorf("write patched file %s: %w", targetPath, err)
		}
		if targetPath != file.OldPath {
			if err := env.DeleteFile(file.OldPath); err != nil {
				return 0, nil, fmt.Errorf("remove renamed source %s: %w", file.OldPath, err)
			}
		}
	}

	return applied, rejected, nil
}

// applyHunk finds hunk.MatchLines in fileLines and replaces them with hunk.ReplaceLines.
// Matching tries a trailing-whitespace-tolerant match first, then falls back to fully-trimmed.
func applyHunk(fileLines []string, hunk UnifiedHunk) ([]string, bool) {
	if len(hunk.MatchLines) == 0 {
		return append(append([]string{}, fileLines...), hunk.ReplaceLines...), true
	}

	matchIdx := findSequence(fileLines, hunk.MatchLines)
	if matchIdx < 0 {
		matchIdx = findSequenceFuzzy(fileLines, hunk.MatchLines)
	}
	if matchIdx < 0 {
		return nil, false
	}

	var result []string
	result = append(result, fileLines[:matchIdx]...)
	result = append(result, hunk.ReplaceLines...)
	result = append(result, fileLines[matchIdx+len(hunk.MatchLines):]...)
	return result, true
}

// findSequence finds the starting index of a sequence of lines within fileLines.
// Trailing whitespace on each line is ignored during comparison. Returns -1 if not found.
func findSequence(fileLines, seq []string) int {
	if len(seq) == 0 || len(fileLines) < len(seq) {
		return -1
	}
	for i := 0; i <= len(fileLines)-len(seq); i++ {
		match := true
		for j := 0; j < len(seq); j++ {
			if strings.TrimRight(fileLines[i+j], " \t") != strings.TrimRight(seq[j], " \t") {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// findSequenceFuzzy performs a fuzzy match by trimming all whitespace from both sides.
// This handles cases where indentation differs between the patch and the file.
// Returns -1 if not found.
func findSequenceFuzzy(fileLines, seq []string) int {
	if len(seq) == 0 || len(fileLines) < len(seq) {
		return -1
	}
	for i := 0; i <= len(fileLines)-len(seq); i++ {
		match := true
		for j := 0; j < len(seq); j++ {
			if strings.TrimSpace(fileLines[i+j]) != strings.TrimSpace(seq[j]) {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
