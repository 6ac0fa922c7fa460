package ytdlp

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// Extraction errors. Every failure returned by Client matches one of these
// under errors.Is.
var (
	ErrToolNotFound       = errors.New("yt-dlp is not installed or not found in PATH")
	ErrContentUnavailable = errors.New("the video is private or unavailable")
	ErrToolFailed         = errors.New("yt-dlp failed")
	ErrMalformedOutput    = errors.New("could not parse yt-dlp output")
	ErrTimeout            = errors.New("yt-dlp timed out")
	ErrCanceled           = errors.New("stream canceled")
)

// Phrases lists the diagnostic substrings used to classify failures. yt-dlp
// has no structured error codes, so these follow its message wording.
type Phrases struct {
	NotFound    []string
	Unavailable []string
}

// DefaultPhrases returns the phrases matched when none are configured.
func DefaultPhrases() Phrases {
	return Phrases{
		NotFound: []string{
			"is not recognized",
			"ENOENT",
			"executable file not found",
			"no such file or directory",
		},
		Unavailable: []string{
			"Private video",
			"Video unavailable",
		},
	}
}

// ToolError carries the diagnostic text of a generic yt-dlp failure.
type ToolError struct {
	Diagnostic string
}

func (e *ToolError) Error() string {
	return "yt-dlp error: " + e.Diagnostic
}

func (e *ToolError) Unwrap() error {
	return ErrToolFailed
}

// ExitError is the terminal error of a stream whose process exited non-zero.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("yt-dlp exited with code %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// classify maps a failed invocation to one of the package errors using the
// captured stderr, falling back to the run error's text when stderr is empty.
func (p Phrases) classify(stderr string, runErr error) error {
	if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist) {
		return ErrToolNotFound
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" && runErr != nil {
		msg = runErr.Error()
	}

	if containsAny(msg, p.NotFound) {
		return ErrToolNotFound
	}
	if containsAny(msg, p.Unavailable) {
		return ErrContentUnavailable
	}
	return &ToolError{Diagnostic: msg}
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
