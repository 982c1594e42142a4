package ffmpeg

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestRunBuildsExpectedArgs(t *testing.T) {
	r := New(WithFFmpegPath("/bin/true"), WithFailFast())
	r.Input("pipe:0").Output("pipe:1").Format("s16le").AudioCodec("pcm_s16le")
	args := r.buildArgs()
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-xerror") {
		t.Errorf("expected fail-fast flag in args: %v", args)
	}
	if !strings.Contains(joined, "-i pipe:0") {
		t.Errorf("expected input flag in args: %v", args)
	}
	if !strings.Contains(joined, "-f s16le") {
		t.Errorf("expected output format flag in args: %v", args)
	}
}

func TestSecondRunFails(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("no /bin/true on this system")
	}
	r := New(WithFFmpegPath("true"))
	r.Output("pipe:1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := r.Run(ctx, nil); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if _, err := r.Run(ctx, nil); err == nil {
		t.Fatal("expected second Run on the same instance to fail")
	}
}

func TestClassifyExitConsumerCloseCodes(t *testing.T) {
	r := New()
	for _, code := range ConsumerCloseExitCodes {
		waitErr := exec.Command("sh", "-c", "exit "+strconv.Itoa(code)).Run()
		if err := r.classifyExit(waitErr); err != nil {
			t.Errorf("expected exit code %d to classify as success, got %v", code, err)
		}
	}
}

func TestParseProgressLineAcrossFields(t *testing.T) {
	r := New(WithProgress())
	var got Progress
	var captured Progress
	r.onProgress = func(p Progress) { captured = p }

	lines := []string{
		"frame=10", "fps=24.5", "out_time=00:00:01.0", "progress=continue",
	}
	for _, line := range lines {
		r.parseProgressLine(line, &got)
	}

	if captured.Frame != 10 {
		t.Errorf("expected frame=10, got %d", captured.Frame)
	}
	if captured.Fps != 24.5 {
		t.Errorf("expected fps=24.5, got %v", captured.Fps)
	}
	if captured.OutTime != "00:00:01.0" {
		t.Errorf("expected out_time=00:00:01.0, got %q", captured.OutTime)
	}
	if captured.State != "continue" {
		t.Errorf("expected progress=continue, got %q", captured.State)
	}
}

func TestParseProgressLineSplitAcrossChunks(t *testing.T) {
	// Feeds the same stderr once as whole lines and once through
	// monitorStderr in 3-byte chunks that cut lines mid-way: the line
	// remainder buffer must reassemble full lines so both feeds produce
	// the same progress snapshot.
	r := New(WithProgress())
	var p1 Progress
	var c1, c2 Progress
	r1 := New(WithProgress())
	r1.onProgress = func(p Progress) { c1 = p }
	r2 := New(WithProgress())
	r2.onProgress = func(p Progress) { c2 = p }

	full := "frame=10\nfps=24.5\nout_time=00:00:01.0\nprogress=continue\n"
	for _, line := range strings.Split(strings.TrimRight(full, "\n"), "\n") {
		r1.parseProgressLine(line, &p1)
	}
	pr, pw := io.Pipe()
	go func() {
		for i := 0; i < len(full); i += 3 {
			pw.Write([]byte(full[i:min(i+3, len(full))]))
		}
		pw.Close()
	}()
	r2.monitorStderr(pr)

	if c1 != c2 {
		t.Errorf("expected identical progress regardless of chunking: %+v vs %+v", c1, c2)
	}
	_ = r
}
