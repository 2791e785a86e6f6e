package vpn

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		line    string
		want    LogCategory
	}{
		{"stdout", ChannelStdout, "TUN/TAP device tun0 opened", CategoryStdout},
		{"stderr", ChannelStderr, "Options error", CategoryStderr},
		{"management", ChannelManagement, ">STATE:1,CONNECTED,SUCCESS", CategoryManagement},
		{"supervisor", ChannelSupervisor, "client exited with status 0", CategoryInternal},
		{"unknown channel", Channel(42), "anything", CategoryInternal},
		{"empty line", ChannelStdout, "", CategoryStdout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.channel, tt.line); got != tt.want {
				t.Errorf("Classify(%s, %q) = %v, want %v", tt.channel, tt.line, got, tt.want)
			}
		})
	}
}

func TestLogCategory_String(t *testing.T) {
	tests := []struct {
		category LogCategory
		expected string
	}{
		{CategoryManagement, "MGNMT"},
		{CategoryStderr, "STDERR"},
		{CategoryStdout, "STDOUT"},
		{CategoryInternal, "LOG"},
		{LogCategory(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("LogCategory.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewLogEvent(t *testing.T) {
	before := time.Now()
	e := NewLogEvent("p1", CategoryStderr, "Cannot resolve host address")

	if e.ProfileID() != "p1" {
		t.Errorf("ProfileID() = %q, want %q", e.ProfileID(), "p1")
	}
	if e.Category() != CategoryStderr {
		t.Errorf("Category() = %v, want %v", e.Category(), CategoryStderr)
	}
	if e.Message() != "Cannot resolve host address" {
		t.Errorf("Message() = %q", e.Message())
	}
	if e.Time().Before(before) {
		t.Errorf("Time() = %v, before creation %v", e.Time(), before)
	}
	if e.IsCrash() {
		t.Error("IsCrash() should be false for ordinary events")
	}
	if got, want := e.String(), "[STDERR] Cannot resolve host address"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestNewCrashEvent(t *testing.T) {
	e := NewCrashEvent("p1", "client exited unexpectedly")

	if !e.IsCrash() {
		t.Error("IsCrash() should be true")
	}
	if e.Category() != CategoryInternal {
		t.Errorf("Category() = %v, want %v", e.Category(), CategoryInternal)
	}
}
