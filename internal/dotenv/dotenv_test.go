package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# comment\n" +
		"FROM_FILE=loaded\r\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='quoted too'\n" +
		"export EXPORTED=ok\n" +
		"EXISTING=from_file\n" +
		"not-a-pair\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	want := map[string]string{
		"FROM_FILE": "loaded",
		"QUOTED":    "hello world",
		"SINGLE":    "quoted too",
		"EXPORTED":  "ok",
		"EXISTING":  "already_set",
	}
	for key, expect := range want {
		if got := os.Getenv(key); got != expect {
			t.Fatalf("%s=%q, want %q", key, got, expect)
		}
	}
}
