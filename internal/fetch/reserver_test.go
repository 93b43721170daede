package fetch_test

import (
	"errors"
	"testing"

	"tubemux/internal/fetch"
	"tubemux/internal/services"
)

func TestReserverAccountsForInFlightReservations(t *testing.T) {
	statfs := func(string) (uint64, uint64, error) { return 42, 1000, nil }
	reserver := fetch.NewReserver(statfs, 1.2)

	first, err := reserver.Reserve("/scratch", 500)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if first.Bytes() != 600 {
		t.Fatalf("expected ceil(500*1.2)=600, got %d", first.Bytes())
	}

	if _, err := reserver.Reserve("/scratch", 400); !errors.Is(err, services.ErrInsufficientSpace) {
		t.Fatalf("expected InsufficientSpace while 600 bytes are held, got %v", err)
	}

	first.Release()
	first.Release()
	if got := reserver.Reserved("/scratch"); got != 0 {
		t.Fatalf("expected nothing reserved after release, got %d", got)
	}

	second, err := reserver.Reserve("/scratch", 400)
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	defer second.Release()
	if second.Bytes() != 480 {
		t.Fatalf("expected 480, got %d", second.Bytes())
	}
}

func TestReserverVolumesAreIndependent(t *testing.T) {
	statfs := func(path string) (uint64, uint64, error) {
		if path == "/a" {
			return 1, 100, nil
		}
		return 2, 100, nil
	}
	reserver := fetch.NewReserver(statfs, 1)
	a, err := reserver.Reserve("/a", 100)
	if err != nil {
		t.Fatalf("reserve a: %v", err)
	}
	defer a.Release()
	b, err := reserver.Reserve("/b", 100)
	if err != nil {
		t.Fatalf("reserve b on a different volume: %v", err)
	}
	defer b.Release()
}

func TestReserverRoundsUp(t *testing.T) {
	reserver := fetch.NewReserver(func(string) (uint64, uint64, error) { return 1, 10, nil }, 1.2)
	if got := reserver.Required(7); got != 9 {
		t.Fatalf("expected ceil(8.4)=9, got %d", got)
	}
	if got := reserver.Required(0); got != 0 {
		t.Fatalf("expected unknown size to reserve nothing, got %d", got)
	}
}
