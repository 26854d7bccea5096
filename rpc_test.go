package duplex_test

import (
	"sort"
	"testing"
	"time"

	"github.com/progrium/duplex"
	_ "github.com/progrium/duplex/codec/jsonmsg"
)

func TestRegisterUnregisterAndMethods(t *testing.T) {
	codec, _ := duplex.LookupCodec("json")
	r := duplex.NewRPC(codec)

	r.Register("alpha", func(ch *duplex.Channel) {})
	r.Register("beta", func(ch *duplex.Channel) {})

	got := r.Methods()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("unexpected methods: %v", got)
	}

	r.Unregister("alpha")
	got = r.Methods()
	if len(got) != 1 || got[0] != "beta" {
		t.Fatalf("unexpected methods after unregister: %v", got)
	}
}

func TestCallbackFuncNamesAreUnique(t *testing.T) {
	codec, _ := duplex.LookupCodec("json")
	r := duplex.NewRPC(codec)

	name1, err := r.CallbackFunc(func(args interface{}, ch *duplex.Channel) (interface{}, error) { return nil, nil })
	if err != nil {
		t.Fatalf("CallbackFunc: %v", err)
	}
	name2, err := r.CallbackFunc(func(args interface{}, ch *duplex.Channel) (interface{}, error) { return nil, nil })
	if err != nil {
		t.Fatalf("CallbackFunc: %v", err)
	}
	if name1 == name2 {
		t.Fatalf("expected distinct callback names, got %q twice", name1)
	}
	methods := r.Methods()
	if len(methods) != 2 {
		t.Fatalf("expected both callbacks registered, got %v", methods)
	}
}

func TestWithLoggerOption(t *testing.T) {
	codec, _ := duplex.LookupCodec("json")
	custom := duplex.NewRPC(codec).Logger()
	r := duplex.NewRPC(codec, duplex.WithLogger(custom))
	if r.Logger() != custom {
		t.Fatalf("expected WithLogger to override the default logger")
	}
}

func TestWithCallTimeoutOption(t *testing.T) {
	codec, _ := duplex.LookupCodec("json")
	r := duplex.NewRPC(codec)
	if r.CallTimeout() != 0 {
		t.Fatalf("expected zero default call timeout, got %v", r.CallTimeout())
	}
	r = duplex.NewRPC(codec, duplex.WithCallTimeout(5*time.Second))
	if r.CallTimeout() != 5*time.Second {
		t.Fatalf("expected WithCallTimeout to set %v, got %v", 5*time.Second, r.CallTimeout())
	}
}
