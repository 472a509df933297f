package validate

import (
	"errors"
	"testing"
)

func TestProjectPath(t *testing.T) {
	t.Parallel()

	root := "/srv/project"
	cases := []struct {
		name string
		in   string
		want string
		err  error
	}{
		{"relative", "audio/a.mp3", "/srv/project/audio/a.mp3", nil},
		{"absolute inside", "/srv/project/out/r.docx", "/srv/project/out/r.docx", nil},
		{"root itself", ".", "/srv/project", nil},
		{"dotdot escape", "../other/a.mp3", "", ErrPathEscape},
		{"embedded dotdot", "audio/../../etc/passwd", "", ErrPathEscape},
		{"absolute outside", "/etc/passwd", "", ErrPathEscape},
		{"prefix sibling", "/srv/project2/a.mp3", "", ErrPathEscape},
		{"empty", "  ", "", ErrEmptyPath},
		{"dotdot that returns", "sub/../audio/a.mp3", "/srv/project/audio/a.mp3", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ProjectPath(root, tc.in)
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v", err, tc.err)
			}
			if got != tc.want {
				t.Errorf("path = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAudioPath(t *testing.T) {
	t.Parallel()

	root := "/srv/project"
	for _, ok := range []string{"a.mp3", "a.WAV", "a.flac", "a.m4a", "a.opus", "a.ogg", "a.ac3"} {
		if _, err := AudioPath(root, ok); err != nil {
			t.Errorf("AudioPath(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"a.txt", "a.mp4", "a", "a.docx"} {
		if _, err := AudioPath(root, bad); !errors.Is(err, ErrBadAudioFormat) {
			t.Errorf("AudioPath(%q) = %v, want ErrBadAudioFormat", bad, err)
		}
	}
	if _, err := AudioPath(root, "../a.mp3"); !errors.Is(err, ErrPathEscape) {
		t.Errorf("escape before extension check: %v", err)
	}
}

func TestDocxPath(t *testing.T) {
	t.Parallel()

	root := "/srv/project"
	if _, err := DocxPath(root, "templates/report.docx"); err != nil {
		t.Errorf("DocxPath = %v", err)
	}
	if _, err := DocxPath(root, "templates/report.doc"); !errors.Is(err, ErrBadDocxPath) {
		t.Errorf("DocxPath(.doc) = %v, want ErrBadDocxPath", err)
	}
}

func TestLanguages(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"", "auto", "de", "en-US", "pt-BR", "deu"} {
		if err := InputLanguage(ok); err != nil {
			t.Errorf("InputLanguage(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"d", "german", "en_US", "12"} {
		if err := InputLanguage(bad); !errors.Is(err, ErrBadLanguage) {
			t.Errorf("InputLanguage(%q) = %v, want ErrBadLanguage", bad, err)
		}
	}

	if err := OutputLanguage("auto"); !errors.Is(err, ErrAutoNotAllowed) {
		t.Errorf("OutputLanguage(auto) = %v, want ErrAutoNotAllowed", err)
	}
	if err := OutputLanguage("en"); err != nil {
		t.Errorf("OutputLanguage(en) = %v", err)
	}
}
