package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/urfave/cli/v2"
)

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{name: "silent match", err: cli.Exit("", 0), wantCode: 0},
		{name: "silent cancel", err: cli.Exit("", 2), wantCode: 2},
		{
			name:     "watch failure",
			err:      cli.Exit("watch failed [not_found]: no such object", 1),
			wantCode: 1,
			wantMsg:  "watch failed [not_found]: no such object",
		},
		{name: "usage", err: cli.Exit("invalid --until", 3), wantCode: 3, wantMsg: "invalid --until"},
		{
			name:     "joined exit",
			err:      errors.Join(errors.New("close journal"), cli.Exit("archive failed", 1)),
			wantCode: 1,
			wantMsg:  "archive failed",
		},
		{
			name:     "wrapped exit",
			err:      fmt.Errorf("retrieve: %w", cli.Exit("", 3)),
			wantCode: 3,
		},
		{name: "plain error", err: errors.New("boom"), wantCode: 1, wantMsg: "Error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := exitStatus(tt.err)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if msg != tt.wantMsg {
				t.Errorf("msg = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestExitErrHandler_Nil(_ *testing.T) {
	exitErrHandler(nil, nil)
}

func TestNewApp_Commands(t *testing.T) {
	app := newApp()
	want := []string{"watch", "retrieve", "replay", "serve", "inspect", "version"}
	for _, name := range want {
		if app.Command(name) == nil {
			t.Errorf("missing command %q", name)
		}
	}
	if len(app.Commands) != len(want) {
		t.Errorf("got %d commands, want %d", len(app.Commands), len(want))
	}
}
