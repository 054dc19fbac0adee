package runtimectx

import "testing"

func TestParseEntrypoint(t *testing.T) {
	cases := []struct {
		arg     string
		want    Entrypoint
		wantErr bool
	}{
		{arg: "/app/main.wasm", want: Entrypoint{Path: "/app/main.wasm", Func: DefaultFunc}},
		{arg: "/app/main.wasm#run", want: Entrypoint{Path: "/app/main.wasm", Func: "run"}},
		{arg: "#run", wantErr: true},
		{arg: "/app/main.wasm#", wantErr: true},
		{arg: "", wantErr: true},
	}

	for _, c := range cases {
		got, err := ParseEntrypoint(c.arg)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseEntrypoint(%q): want error, got %+v", c.arg, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEntrypoint(%q): unexpected error: %v", c.arg, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseEntrypoint(%q) = %+v, want %+v", c.arg, got, c.want)
		}
	}
}

func TestEntrypointString(t *testing.T) {
	cases := []struct {
		e    Entrypoint
		want string
	}{
		{Entrypoint{Path: "/app/main.wasm", Func: DefaultFunc}, "/app/main.wasm"},
		{Entrypoint{Path: "/app/main.wasm", Func: "run"}, "/app/main.wasm#run"},
		{Entrypoint{Path: "/app/main.wasm"}, "/app/main.wasm"},
	}
	for _, c := range cases {
		if got := c.e.String(); got != c.want {
			t.Errorf("%+v.String() = %q, want %q", c.e, got, c.want)
		}
	}
}
