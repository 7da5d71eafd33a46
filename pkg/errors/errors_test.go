package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestQueueCancelledUnwraps(t *testing.T) {
	err := QueueCancelledError(context.Canceled)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected errors.Is(err, context.Canceled), got %v", err)
	}
	if !Is(err, ErrQueueCancelled) {
		t.Errorf("expected code %s", ErrQueueCancelled)
	}
}

func TestIsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load: %w", ConfigValidationError("movequeue", "capacity", "bad"))
	if !Is(err, ErrConfigValidation) {
		t.Errorf("Is should see through fmt wrapping")
	}
	if !IsConfig(err) {
		t.Errorf("IsConfig should be true")
	}
	if Is(err, ErrJob) {
		t.Errorf("unexpected code match")
	}
	if Is(stderrors.New("plain"), ErrRuntime) {
		t.Errorf("plain error matched")
	}
}

func TestErrorString(t *testing.T) {
	err := JobError(7, "unknown item kind")
	if got := err.Error(); got != "[JOB] line 7: unknown item kind" {
		t.Errorf("unexpected message %q", got)
	}
	err2 := SerialError("/dev/ttyUSB0", stderrors.New("no such file"))
	if !strings.Contains(err2.Error(), "no such file") {
		t.Errorf("wrapped cause missing: %q", err2.Error())
	}
}

func TestRecoverPanic(t *testing.T) {
	run := func() (err error) {
		defer func() {
			if e := RecoverPanic(recover()); e != nil {
				err = e
			}
		}()
		panic("boom")
	}
	err := run()
	if err == nil || !Is(err, ErrRuntime) {
		t.Fatalf("expected runtime error, got %v", err)
	}
	if RecoverPanic(nil) != nil {
		t.Errorf("nil recover should give nil")
	}
}
