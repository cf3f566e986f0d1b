package dedup

import "testing"

func TestSeenOrAddFirstTimeIsFresh(t *testing.T) {
	log, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if log.SeenOrAdd(HashBytes([]byte("hello"))) {
		t.Fatal("expected first observation to be fresh")
	}
}

func TestSeenOrAddSecondTimeIsDuplicate(t *testing.T) {
	log, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := HashBytes([]byte("hello"))
	if log.SeenOrAdd(h) {
		t.Fatal("expected first observation to be fresh")
	}
	if !log.SeenOrAdd(h) {
		t.Fatal("expected second observation to be a duplicate")
	}
}

func TestHashBytesDistinguishesContent(t *testing.T) {
	a := HashBytes([]byte("message-a"))
	b := HashBytes([]byte("message-b"))
	if a == b {
		t.Fatal("expected distinct content to hash differently")
	}
}

func TestLogEvictsBeyondCapacity(t *testing.T) {
	log, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		log.SeenOrAdd(HashBytes([]byte{byte(i)}))
	}
	if log.Len() > 4 {
		t.Fatalf("log len %d exceeds capacity 4", log.Len())
	}
}
