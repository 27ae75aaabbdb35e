package page

import (
	"strings"
	"testing"
)

func TestScreenshot_DataURL(t *testing.T) {
	t.Parallel()

	s := NewScreenshot([]byte{0x89, 'P', 'N', 'G'})
	if s.ID == "" {
		t.Error("expected a generated ID")
	}
	got := s.DataURL()
	if got != "data:image/png;base64,iVBORw==" {
		t.Errorf("DataURL() = %q", got)
	}
}

func TestScreenshot_DataURLDefaultsMIME(t *testing.T) {
	t.Parallel()

	s := &Screenshot{Data: []byte("x")}
	if !strings.HasPrefix(s.DataURL(), "data:image/png;base64,") {
		t.Errorf("DataURL() = %q, want png prefix", s.DataURL())
	}
}
