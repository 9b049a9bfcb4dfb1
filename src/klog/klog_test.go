package klog

import "testing"

import "mem"

// fakePager backs the ring buffer with plain host memory instead of the
// kernel's direct-mapped physical allocator -- the latter only resolves
// to real addresses once the boot glue has built the direct map, which
// isn't true under `go test` (see proc_test.go's fakeTask for the same
// concern applied to address spaces).
type fakePager struct{}

func (fakePager) Refpg_new() (*mem.Pg_t, mem.Pa_t, bool)         { return &mem.Pg_t{}, 0, true }
func (fakePager) Refpg_new_nozero() (*mem.Pg_t, mem.Pa_t, bool)  { return &mem.Pg_t{}, 0, true }
func (fakePager) Refcnt(mem.Pa_t) int                            { return 1 }
func (fakePager) Dmap(mem.Pa_t) *mem.Pg_t                        { return &mem.Pg_t{} }
func (fakePager) Refup(mem.Pa_t)                                 {}
func (fakePager) Refdown(mem.Pa_t) bool                          { return true }

func TestPrintMirrorsIntoRing(t *testing.T) {
	ready = false
	Init(fakePager{})

	Print("hello %s\n", "world")
	Print("second line\n")

	got := Dump()
	want := "hello world\nsecond line\n"
	if got != want {
		t.Fatalf("dump mismatch: got %q want %q", got, want)
	}
}

func TestDumpBeforeInitIsEmpty(t *testing.T) {
	ready = false
	if got := Dump(); got != "" {
		t.Fatalf("expected empty dump before Init, got %q", got)
	}
}
