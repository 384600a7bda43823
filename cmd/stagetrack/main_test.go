package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testConfig = `
osc_in:
  listen: 127.0.0.1:0
tracker:
  update_period: 0.01
fixture:
  type: log
heartbeat:
  interval: 0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "stagetrack.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestRun_Check(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"-check", "-config", writeConfig(t, testConfig)}, strings.NewReader(""), &out, &errOut)
	if err != nil {
		t.Fatalf("run: %v (%s)", err, errOut.String())
	}
	if !strings.Contains(out.String(), "ok (fixture=log actuator=101)") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRun_CheckRejectsInvalid(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"-check", "-config", writeConfig(t, "tracker: {smoothing: 2}")}, strings.NewReader(""), &out, &errOut)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRun_UnknownFixture(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"-config", writeConfig(t, "fixture: {type: dmx}")}, strings.NewReader(""), &out, &errOut)
	if err == nil || !strings.Contains(err.Error(), "unknown_backend") {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_StartsAndStopsCleanly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var out, errOut bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-config", writeConfig(t, testConfig)}, strings.NewReader(""), &out, &errOut)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	logs := errOut.String()
	for _, want := range []string{"starting stagetrack", "tracker loop activated", "shutting down"} {
		if !strings.Contains(logs, want) {
			t.Fatalf("logs missing %q:\n%s", want, logs)
		}
	}
}
