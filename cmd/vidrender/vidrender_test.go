package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidrender/internal/pipeline"
)

const sceneYAML = `
width: 320
height: 180
fps: 10
duration: 2
elements:
  - id: title
    type: text
    text: Hello
    end: 1
  - id: logo
    type: image
    src: storage:assets/ast_1/original.png
    start: 0.5
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateYAMLScene(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeFile(t, "intro.yaml", sceneYAML)

	out, err := execute(t, "validate", path)
	if err != nil {
		t.Fatalf("validate failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "320x180, 20 frames at 10 fps") {
		t.Errorf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "original.png") || !strings.Contains(out, "title") {
		t.Errorf("expected element rows:\n%s", out)
	}
}

func TestValidateFPSOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeFile(t, "intro.json", `{"fps": 10, "duration": 2}`)

	out, err := execute(t, "validate", "--fps", "25", path)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if !strings.Contains(out, "50 frames at 25 fps") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}

func TestValidateRejectsInvalidScene(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeFile(t, "bad.json", `{"duration": -1}`)

	if _, err := execute(t, "validate", path); err == nil || !strings.Contains(err.Error(), "duration") {
		t.Errorf("expected duration error, got %v", err)
	}
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	path := writeFile(t, "intro.json", `{"duration": 1}`)
	if _, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "validate", path); err == nil {
		t.Error("expected error for missing --config file")
	}
}

func TestYAMLToJSON(t *testing.T) {
	got, err := yamlToJSON([]byte("duration: 1\nelements:\n  - type: shape\n    shape: rect\n"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"duration":1,"elements":[{"shape":"rect","type":"shape"}]}` {
		t.Errorf("unexpected json %s", got)
	}

	if _, err := yamlToJSON([]byte("duration: [1")); err == nil {
		t.Error("expected yaml error")
	}
}

func TestParallelFor(t *testing.T) {
	const mb = 1 << 20
	tests := []struct {
		name        string
		cpus        int
		avail       uint64
		perInstance uint64
		want        int
	}{
		{"cpu bound", 4, 16 << 30, 512 * mb, 4},
		{"memory bound", 16, 2 << 30, 512 * mb, 4},
		{"unknown memory", 8, 0, 512 * mb, 8},
		{"no memory left", 8, 100 * mb, 512 * mb, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parallelFor(tt.cpus, tt.avail, tt.perInstance); got != tt.want {
				t.Errorf("parallelFor() = %d, want %d", got, tt.want)
			}
		})
	}

	if n := autoParallel(512); n < 1 {
		t.Errorf("autoParallel() = %d", n)
	}
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	err := printSummary(&out, &pipeline.Result{
		JobID:     "job-1",
		Frames:    60,
		FPS:       30,
		Out:       "/tmp/out.mp4",
		Elapsed:   2 * time.Second,
		Instances: pipeline.PoolStats{Created: 3, PeakLeased: 3},
		Retries:   1,
	}, 4)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"job-1", "/tmp/out.mp4", "30.0 frames/s", "Retries"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}
