package sysc

import "path/filepath"
import "testing"

import "ata"
import "defs"
import "fs"
import "mem"
import "proc"
import "vm"

// fakeTask builds a minimally-valid Task_t the way proc's own tests do:
// a real *vm.Vm_t wrapper over a zeroed page table, with no pages ever
// actually mapped into it, so nothing here ever dereferences the
// kernel's direct map (only valid once the boot glue has built it).
func fakeTask(pid defs.Pid_t) *proc.Task_t {
	return &proc.Task_t{
		Pid:   pid,
		State: proc.Ready,
		As:    &vm.Vm_t{Pmap: &mem.Pmap_t{}},
	}
}

func mountTestFS(t *testing.T) *fs.Fs_t {
	t.Helper()
	dir := t.TempDir()
	disk, err := ata.NewFileDisk(filepath.Join(dir, "disk.img"), 2048)
	if err != nil {
		t.Fatal(err)
	}
	fsys, ferr := fs.Mkfs(disk, 0)
	if ferr != 0 {
		t.Fatalf("mkfs failed: %v", ferr)
	}
	return fsys
}

func TestDispatchUnknownSyscallReturnsNegativeOne(t *testing.T) {
	tsk := fakeTask(1)
	tsk.Frame.Rax = 250 // far past the handlers registered in table
	Dispatch(tsk)
	if int64(tsk.Frame.Rax) != -1 {
		t.Fatalf("expected -1 for an unregistered syscall, got %v", int64(tsk.Frame.Rax))
	}
}

func TestDispatchGetpidRoundtrip(t *testing.T) {
	tsk := fakeTask(42)
	tsk.Frame.Rax = uint64(defs.SYS_GETPID)
	Dispatch(tsk)
	if int64(tsk.Frame.Rax) != 42 {
		t.Fatalf("expected getpid to return 42, got %v", int64(tsk.Frame.Rax))
	}
}

func TestDispatchExitMarksZombie(t *testing.T) {
	tsk := fakeTask(7)
	tsk.Frame.Rax = uint64(defs.SYS_EXIT)
	tsk.Frame.Rdi = 3
	Dispatch(tsk)
	if tsk.State != proc.Zombie {
		t.Fatalf("expected exit() to leave the task a zombie, got state %v", tsk.State)
	}
	if tsk.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %v", tsk.ExitCode)
	}
}

func TestPermsFromFlags(t *testing.T) {
	cases := []struct {
		flags int
		want  int
	}{
		{defs.O_RDONLY, 1},
		{defs.O_WRONLY, 2},
		{defs.O_RDWR, 3},
		{defs.O_WRONLY | defs.O_CREAT, 2},
	}
	for _, c := range cases {
		if got := permsFromFlags(c.flags); got != c.want {
			t.Fatalf("permsFromFlags(%#x): got %v want %v", c.flags, got, c.want)
		}
	}
}

func TestInitTaskInstallsConsoleAndRootCwd(t *testing.T) {
	Init(mountTestFS(t))
	tsk := fakeTask(1)
	if err := InitTask(tsk); err != 0 {
		t.Fatalf("InitTask failed: %v", err)
	}
	if tsk.Cwd == nil || string(tsk.Cwd.Path) != "/" {
		t.Fatalf("expected cwd rooted at /, got %+v", tsk.Cwd)
	}
	for _, fdno := range []int{0, 1, 2} {
		if tsk.Fds.Get(fdno) == nil {
			t.Fatalf("expected fd %v to be installed", fdno)
		}
	}
	if tsk.Fds.Get(3) != nil {
		t.Fatal("expected fd 3 to remain free")
	}
}

func TestConsoleWriteGoesToKlog(t *testing.T) {
	c := &consoleFile_t{}
	src := &vm.Fakeubuf_t{}
	src.Fake_init([]uint8("hello"))
	n, err := c.Write(src)
	if err != 0 {
		t.Fatalf("console write failed: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %v", n)
	}
}

func TestConsoleReadReturnsEOF(t *testing.T) {
	c := &consoleFile_t{}
	dst := &vm.Fakeubuf_t{}
	dst.Fake_init(make([]uint8, 16))
	n, err := c.Read(dst)
	if err != 0 || n != 0 {
		t.Fatalf("expected (0, 0) for a stdin read with no keyboard driver, got (%v, %v)", n, err)
	}
}
