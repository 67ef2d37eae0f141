package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestCIReporterCountsConcurrentAdvances(t *testing.T) {
	var buf bytes.Buffer
	r := &CIReporter{Out: &buf, Label: "Scanning fleet"}
	r.Start(8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Advance("device")
		}()
	}
	wg.Wait()
	r.Finish()

	out := buf.String()
	if !strings.HasPrefix(out, "Scanning fleet: 8 devices\n") {
		t.Errorf("unexpected header:\n%s", out)
	}
	if !strings.Contains(out, "[8/8] device") {
		t.Errorf("expected a final count line:\n%s", out)
	}
	if !strings.HasSuffix(out, "Scanning fleet complete\n") {
		t.Errorf("unexpected footer:\n%s", out)
	}
}

func TestNewReporterInCI(t *testing.T) {
	t.Setenv("CI", "true")
	if _, ok := NewReporter("scan").(*CIReporter); !ok {
		t.Error("expected a CIReporter when CI is set")
	}
}
