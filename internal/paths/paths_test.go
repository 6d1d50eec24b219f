package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChatMediaDirSanitizesJID(t *testing.T) {
	dir := ChatMediaDir("/data", "5511999999999:12@s.whatsapp.net")
	if strings.Contains(filepath.Base(dir), ":") {
		t.Errorf("chat media dir %q still contains a colon", dir)
	}
	if !strings.HasPrefix(dir, filepath.Join("/data", "media")) {
		t.Errorf("chat media dir %q not under media root", dir)
	}
}

func TestEnsureTree(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "wabridge")
	if err := EnsureTree(dataDir); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{dataDir, MediaDir(dataDir), LogDir(dataDir)} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("stat %s: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestPathsAreInsideDataDir(t *testing.T) {
	for _, p := range []string{
		ConfigPath("/d"),
		MessageDBPath("/d"),
		SessionDBPath("/d"),
		LogPath("/d"),
	} {
		if !strings.HasPrefix(p, "/d"+string(filepath.Separator)) {
			t.Errorf("path %q escapes the data dir", p)
		}
	}
}
