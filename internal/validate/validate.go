// Package validate checks run requests before a pipeline is started:
// project-root confinement for all paths, media and document extensions,
// and language codes.
package validate

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrEmptyPath      = errors.New("validate: empty path")
	ErrPathEscape     = errors.New("validate: path escapes project root")
	ErrBadAudioFormat = errors.New("validate: unsupported audio format")
	ErrBadDocxPath    = errors.New("validate: path is not a .docx file")
	ErrBadLanguage    = errors.New("validate: invalid language code")
	ErrAutoNotAllowed = errors.New("validate: output language cannot be auto")
)

// audioExtensions are the media containers the transcription tool accepts.
var audioExtensions = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".flac": {}, ".m4a": {}, ".aac": {},
	".ogg": {}, ".opus": {}, ".wma": {}, ".aiff": {}, ".ape": {}, ".ac3": {},
}

// languageRe matches ISO-style codes: a two- or three-letter primary tag
// with an optional region subtag ("de", "en-US", "pt-BR").
var languageRe = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z]{2}|-[0-9]{3})?$`)

// ProjectPath resolves rel against root and verifies the result stays
// inside root. Absolute inputs are accepted when they already point inside
// root. Returns the cleaned absolute path.
func ProjectPath(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", ErrEmptyPath
	}

	abs := rel
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, rel)
	}
	abs = filepath.Clean(abs)

	cleanRoot := filepath.Clean(root)
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, rel)
	}
	return abs, nil
}

// AudioPath validates a transcription input path: confined to root and
// carrying a supported media extension.
func AudioPath(root, rel string) (string, error) {
	abs, err := ProjectPath(root, rel)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(abs))
	if _, ok := audioExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: %s", ErrBadAudioFormat, ext)
	}
	return abs, nil
}

// DocxPath validates a template or output path: confined to root and
// ending in .docx.
func DocxPath(root, rel string) (string, error) {
	abs, err := ProjectPath(root, rel)
	if err != nil {
		return "", err
	}
	if strings.ToLower(filepath.Ext(abs)) != ".docx" {
		return "", fmt.Errorf("%w: %s", ErrBadDocxPath, rel)
	}
	return abs, nil
}

// InputLanguage validates the transcription language. "auto" delegates
// detection to the transcription model.
func InputLanguage(code string) error {
	if code == "" || code == "auto" {
		return nil
	}
	if !languageRe.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrBadLanguage, code)
	}
	return nil
}

// OutputLanguage validates the draft language. The document must be
// written in a concrete language, so "auto" is rejected.
func OutputLanguage(code string) error {
	if code == "auto" {
		return ErrAutoNotAllowed
	}
	if code == "" {
		return nil
	}
	if !languageRe.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrBadLanguage, code)
	}
	return nil
}
