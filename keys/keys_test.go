package keys

import (
	"bytes"
	"testing"
)

func TestRecordKeyDecodesItsID(t *testing.T) {
	key := Record(1, 2, "items", "rec-7")
	id, err := DecodeRecordID(1, 2, "items", key)
	if err != nil {
		t.Fatalf("DecodeRecordID failed: %v", err)
	}
	if id != "rec-7" {
		t.Errorf("Expected rec-7, got %s", id)
	}
	if _, err := DecodeRecordID(1, 2, "other", key); err == nil {
		t.Error("Decoding with the wrong table should fail")
	}
}

func TestRecordKeysSortWithinPrefix(t *testing.T) {
	prefix := RecordPrefix(1, 2, "items")
	end := PrefixEnd(prefix)
	a := Record(1, 2, "items", "a")
	z := Record(1, 2, "items", "z")

	if !bytes.HasPrefix(a, prefix) || !bytes.HasPrefix(z, prefix) {
		t.Fatal("Record keys must share the table prefix")
	}
	if bytes.Compare(a, z) >= 0 {
		t.Error("Record keys must sort by id")
	}
	if bytes.Compare(z, end) >= 0 {
		t.Error("All record keys must sort below the prefix end")
	}
}

func TestPrefixEndCoversHighBytes(t *testing.T) {
	prefix := RecordPrefix(1, 2, "items")
	end := PrefixEnd(prefix)
	high := Record(1, 2, "items", "\xff\xff\xffbin")
	if bytes.Compare(high, prefix) < 0 || bytes.Compare(high, end) >= 0 {
		t.Error("Record with a 0xFF-leading id fell outside [prefix, end)")
	}

	got := PrefixEnd([]byte{'r', 0x01, 0xFF, 0xFF})
	if !bytes.Equal(got, []byte{'r', 0x02}) {
		t.Errorf("Expected trailing 0xFF bytes dropped and carry applied, got %v", got)
	}
	if PrefixEnd([]byte{0xFF, 0xFF}) != nil {
		t.Error("An all-0xFF prefix has no finite upper bound")
	}
}

func TestTablesDoNotOverlap(t *testing.T) {
	aPrefix := RecordPrefix(1, 2, "aa")
	bKey := Record(1, 2, "ab", "x")
	if bytes.HasPrefix(bKey, aPrefix) {
		t.Error("Keys of table ab leaked into the prefix of table aa")
	}
	// Different databases never share record prefixes either.
	if bytes.HasPrefix(Record(1, 3, "aa", "x"), aPrefix) {
		t.Error("Keys of another database leaked into the prefix")
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	for _, d := range []int64{1, -1, 0, 12345, -99999} {
		got, err := DecodeDelta(EncodeDelta(d))
		if err != nil {
			t.Fatalf("DecodeDelta(%d) failed: %v", d, err)
		}
		if got != d {
			t.Errorf("Delta %d round-tripped to %d", d, got)
		}
	}
	if _, err := DecodeDelta([]byte{1, 2}); err == nil {
		t.Error("Truncated delta should fail to decode")
	}
}

func TestPostingKeyDecodesRecordID(t *testing.T) {
	key := Posting(1, 2, "items", 9, "hello", "rec-1")
	prefix := PostingPrefix(1, 2, "items", 9, "hello")
	if !bytes.HasPrefix(key, prefix) {
		t.Fatal("Posting key must extend its term prefix")
	}
	id, err := DecodePostingID(1, 2, "items", 9, "hello", key)
	if err != nil {
		t.Fatalf("DecodePostingID failed: %v", err)
	}
	if id != "rec-1" {
		t.Errorf("Expected rec-1, got %s", id)
	}
}

func TestCountDeltaKeysOrderBySeq(t *testing.T) {
	k1 := CountDelta(1, 2, "items", 9, 1)
	k2 := CountDelta(1, 2, "items", 9, 2)
	if bytes.Compare(k1, k2) >= 0 {
		t.Error("Delta keys must order by sequence number")
	}
	prefix := CountDeltaPrefix(1, 2, "items", 9)
	if !bytes.HasPrefix(k1, prefix) || !bytes.HasPrefix(k2, prefix) {
		t.Error("Delta keys must share the index prefix")
	}
	// A different index id must not collide.
	if bytes.HasPrefix(CountDelta(1, 2, "items", 10, 1), prefix) {
		t.Error("Delta keys of another index leaked into the prefix")
	}
}
