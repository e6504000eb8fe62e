package proc

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"unsafe"
)

func TestAttachSelf(t *testing.T) {
	p, err := Attach(os.Getpid())
	if err != nil {
		t.Fatalf("Attach(self): %v", err)
	}
	defer p.Close()

	if !p.Alive() {
		t.Errorf("Alive() = false for self")
	}
}

func TestAttachBogusPid(t *testing.T) {
	// Beyond the default pid_max, so nothing can own it.
	if _, err := Attach(1 << 22); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Attach(bogus) = %v, want ErrNotRunning", err)
	}
}

func TestReadAtSelf(t *testing.T) {
	p, err := Attach(os.Getpid())
	if err != nil {
		t.Fatalf("Attach(self): %v", err)
	}
	defer p.Close()

	src := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04}
	got := make([]byte, len(src))
	if err := p.ReadAt(uint64(uintptr(unsafe.Pointer(&src[0]))), got); err != nil {
		t.Fatalf("ReadAt(own memory): %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Errorf("ReadAt = %x, want %x", got, src)
	}
}

func TestReadAtUnmapped(t *testing.T) {
	p, err := Attach(os.Getpid())
	if err != nil {
		t.Fatalf("Attach(self): %v", err)
	}
	defer p.Close()

	// Page zero is never mapped.
	buf := make([]byte, 4)
	if err := p.ReadAt(0x8, buf); !errors.Is(err, ErrUnreadable) {
		t.Fatalf("ReadAt(unmapped) = %v, want ErrUnreadable", err)
	}
}

func TestReadAtEmpty(t *testing.T) {
	p, err := Attach(os.Getpid())
	if err != nil {
		t.Fatalf("Attach(self): %v", err)
	}
	defer p.Close()

	if err := p.ReadAt(0, nil); err != nil {
		t.Errorf("ReadAt with empty buffer = %v, want nil", err)
	}
}
