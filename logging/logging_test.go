package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupLoggerWritesThroughLink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sigverify.log")
	if err := SetupLogger(path); err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	LogInfo("epoch %d done", 3)
	LogError("sample %s failed", "x.png")
	LogSampleProcessed("a.png", true, "")
	CloseLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log through link: %v", err)
	}
	out := string(data)
	for _, want := range []string{"INFO: epoch 3 done", "ERROR: sample x.png failed", "PROCESSED: a.png"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if Writer() != nil {
		t.Error("Writer should be nil after CloseLogger")
	}
}
