package idgen

import (
	"errors"
	"regexp"
	"slices"
	"strings"
	"testing"
)

var issueID = regexp.MustCompile(`^kg-[a-z0-9]{8}$`)

func TestGenerate(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 5000; i++ {
		id, err := Generate()
		if err != nil {
			t.Fatal(err)
		}
		if !issueID.MatchString(id) {
			t.Fatalf("Generate() = %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d", id, i)
		}
		seen[id] = true
	}
}

func TestUnique(t *testing.T) {
	t.Run("skips taken ids", func(t *testing.T) {
		var asked []string
		id, err := Unique("it-", func(id string) (bool, error) {
			asked = append(asked, id)
			return len(asked) < 3, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(asked) != 3 || id != asked[2] || !strings.HasPrefix(id, "it-") {
			t.Errorf("id = %q after %v", id, asked)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		_, err := Unique("it-", func(string) (bool, error) { calls++; return true, nil })
		if !errors.Is(err, ErrExhausted) || calls != maxAttempts {
			t.Errorf("err = %v after %d calls", err, calls)
		}
	})

	t.Run("lookup error", func(t *testing.T) {
		boom := errors.New("disk")
		if _, err := Unique("it-", func(string) (bool, error) { return false, boom }); !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestNewRunID(t *testing.T) {
	v7 := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	ids := make([]string, 1000)
	for i := range ids {
		id, err := NewRunID()
		if err != nil {
			t.Fatal(err)
		}
		if !v7.MatchString(id) {
			t.Fatalf("NewRunID() = %q, not a UUIDv7", id)
		}
		ids[i] = id
	}
	// Time order doubles as creation order for run listings.
	if !slices.IsSorted(ids) {
		t.Error("run ids are not in creation order")
	}
	if len(slices.Compact(slices.Clone(ids))) != len(ids) {
		t.Error("duplicate run ids")
	}
}
