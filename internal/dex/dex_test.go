package dex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestArgumentSlots(t *testing.T) {
	tests := []struct {
		name  string
		types []string
		want  []ArgumentSlot
		slots int
	}{
		{
			name:  "empty",
			types: nil,
			want:  []ArgumentSlot{},
			slots: 0,
		},
		{
			name:  "narrow only",
			types: []string{"I", "Ljava/lang/String;"},
			want:  []ArgumentSlot{{"I", 0}, {"Ljava/lang/String;", 1}},
			slots: 2,
		},
		{
			name:  "wide then narrow",
			types: []string{"J", "I"},
			want:  []ArgumentSlot{{"J", 0}, {"I", 2}},
			slots: 3,
		},
		{
			name:  "trailing wide",
			types: []string{"I", "D"},
			want:  []ArgumentSlot{{"I", 0}, {"D", 1}},
			slots: 3,
		},
		{
			name:  "adjacent wides",
			types: []string{"J", "D", "Z"},
			want:  []ArgumentSlot{{"J", 0}, {"D", 2}, {"Z", 4}},
			slots: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ArgumentSlots(tt.types)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ArgumentSlots() mismatch (-want +got):\n%s", diff)
			}
			if n := SlotCount(tt.types); n != tt.slots {
				t.Errorf("SlotCount() = %d, want %d", n, tt.slots)
			}
		})
	}
}

func TestParseMethodReference(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    MethodReference
		wantErr bool
	}{
		{
			name: "static int",
			in:   "LFoo;->bar(II)I",
			want: MethodReference{DefiningClass: "LFoo;", Name: "bar", ParameterTypes: []string{"I", "I"}, ReturnType: "I"},
		},
		{
			name: "no params",
			in:   "Ljava/lang/StringBuilder;-><init>()V",
			want: MethodReference{DefiningClass: "Ljava/lang/StringBuilder;", Name: "<init>", ParameterTypes: nil, ReturnType: "V"},
		},
		{
			name: "mixed params",
			in:   "La/b/C;->m(J[BLjava/lang/String;D)[Ljava/lang/Object;",
			want: MethodReference{
				DefiningClass:  "La/b/C;",
				Name:           "m",
				ParameterTypes: []string{"J", "[B", "Ljava/lang/String;", "D"},
				ReturnType:     "[Ljava/lang/Object;",
			},
		},
		{name: "missing arrow", in: "LFoo;bar()V", wantErr: true},
		{name: "missing paren", in: "LFoo;->bar", wantErr: true},
		{name: "bad param", in: "LFoo;->bar(Q)V", wantErr: true},
		{name: "unterminated class", in: "LFoo;->bar(Ljava/lang)V", wantErr: true},
		{name: "missing return", in: "LFoo;->bar()", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMethodReference(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMethodReference(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseMethodReference(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
			if got.Descriptor() != tt.in {
				t.Errorf("Descriptor() = %q, want %q", got.Descriptor(), tt.in)
			}
		})
	}
}

func TestArgumentTypes(t *testing.T) {
	ref := MethodReference{DefiningClass: "LBar;", Name: "baz", ParameterTypes: []string{"I", "J"}, ReturnType: "V"}

	if diff := cmp.Diff([]string{"LBar;", "I", "J"}, ref.ArgumentTypes(false)); diff != "" {
		t.Errorf("instance ArgumentTypes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"I", "J"}, ref.ArgumentTypes(true)); diff != "" {
		t.Errorf("static ArgumentTypes mismatch (-want +got):\n%s", diff)
	}
	if !ref.ReturnsVoid() {
		t.Error("ReturnsVoid() = false, want true")
	}
}

func TestOpcodeTable(t *testing.T) {
	tests := []struct {
		opcode   string
		category Category
		units    int
	}{
		{"nop", Nop, 1},
		{"const/4", Const, 1},
		{"const-wide", Const, 5},
		{"const-string", Const, 2},
		{"move-wide/from16", Move, 2},
		{"move-result-object", MoveResult, 1},
		{"return-void", ReturnVoid, 1},
		{"return-wide", Return, 1},
		{"throw", Throw, 1},
		{"goto/32", Goto, 3},
		{"packed-switch", Switch, 3},
		{"if-ne", If, 2},
		{"if-gez", IfZ, 2},
		{"new-instance", NewInstance, 2},
		{"invoke-static", Invoke, 3},
		{"invoke-virtual/range", Invoke, 3},
		{"add-int/lit8", Other, 2},
		{"rsub-int", Other, 2},
		{"iget-object", Other, 2},
		{"bogus", Invalid, 1},
	}

	for _, tt := range tests {
		t.Run(tt.opcode, func(t *testing.T) {
			if got := CategoryOf(tt.opcode); got != tt.category {
				t.Errorf("CategoryOf(%q) = %v, want %v", tt.opcode, got, tt.category)
			}
			inst := Instruction{Address: 10, Opcode: tt.opcode}
			if got := inst.Units(); got != tt.units {
				t.Errorf("Units() = %d, want %d", got, tt.units)
			}
			if got := inst.Next(); got != 10+tt.units {
				t.Errorf("Next() = %d, want %d", got, 10+tt.units)
			}
		})
	}
}

func TestResultType(t *testing.T) {
	tests := map[string]string{
		"add-int/lit8":     "I",
		"add-long/2addr":   "J",
		"neg-double":       "D",
		"int-to-long":      "J",
		"long-to-int":      "I",
		"double-to-float":  "F",
		"int-to-char":      "C",
		"aget-object":      "Ljava/lang/Object;",
		"iget-wide":        "J",
		"sget-boolean":     "Z",
		"instance-of":      "Z",
		"array-length":     "I",
		"cmp-long":         "I",
		"move-exception":   "Ljava/lang/Throwable;",
		"aget-byte":        "B",
		"sget-short":       "S",
		"mul-float/2addr":  "F",
		"shl-int/lit8":     "I",
		"div-double/2addr": "D",
	}
	for opcode, want := range tests {
		if got := ResultType(opcode); got != want {
			t.Errorf("ResultType(%q) = %q, want %q", opcode, got, want)
		}
	}
}

func TestJavaName(t *testing.T) {
	tests := map[string]string{
		"I":                   "int",
		"[[B":                 "byte[][]",
		"Ljava/lang/String;":  "java.lang.String",
		"[Ljava/lang/Object;": "java.lang.Object[]",
		"V":                   "void",
	}
	for in, want := range tests {
		if got := JavaName(in); got != want {
			t.Errorf("JavaName(%q) = %q, want %q", in, got, want)
		}
	}
}
