package colorize

import "testing"

func TestDisabled(t *testing.T) {
	t.Setenv("SIMPLIFY_NO_COLOR", "1")
	line := "0004  invoke-static {r0}, LFoo;->bar(I)V  ; unresolved"
	if got := InstructionLine(line); got != line {
		t.Errorf("InstructionLine with colors disabled = %q", got)
	}
}

func TestInstructionLineKeepsText(t *testing.T) {
	t.Setenv("SIMPLIFY_NO_COLOR", "")
	t.Setenv("NO_COLOR", "")
	line := "000a  const/4 r0, 1  ; dead"
	if got := StripANSI(InstructionLine(line)); got != line {
		t.Errorf("colorized line reads %q, want %q", got, line)
	}
}

func TestStripANSI(t *testing.T) {
	if got := StripANSI("\033[38;2;1;2;3mab\033[0mc"); got != "abc" {
		t.Errorf("StripANSI = %q", got)
	}
}

func TestIsHex(t *testing.T) {
	tests := map[string]bool{"00ff": true, "": false, "0x1": false, "const": false}
	for in, want := range tests {
		if got := isHex(in); got != want {
			t.Errorf("isHex(%q) = %v, want %v", in, got, want)
		}
	}
}
