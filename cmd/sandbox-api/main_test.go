package main

import (
	"testing"
	"time"
)

func TestInlineJudgeTimeout(t *testing.T) {
	tests := []struct {
		write time.Duration
		want  time.Duration
	}{
		{0, 0},
		{60 * time.Second, 55 * time.Second},
		{8 * time.Second, 6 * time.Second},
	}
	for _, tt := range tests {
		if got := inlineJudgeTimeout(tt.write); got != tt.want {
			t.Errorf("inlineJudgeTimeout(%s) = %s, want %s", tt.write, got, tt.want)
		}
	}
}
