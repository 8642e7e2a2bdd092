package log

import "testing"

func TestRecoverPanic(t *testing.T) {
	cleaned := false
	func() {
		defer RecoverPanic("test", func() { cleaned = true })
		panic("boom")
	}()
	if !cleaned {
		t.Errorf("cleanup did not run")
	}
}

func TestSetupOnce(t *testing.T) {
	Setup("", false)
	Setup("", true)
	if !Initialized() {
		t.Errorf("Setup did not initialize")
	}
}
